package errors

import "errors"

// ErrOptimisticLock 乐观锁冲突：记录已被其他操作修改
var ErrOptimisticLock = errors.New("数据已被其他操作修改，请刷新后重试")

// ErrLockBusy 任务写锁被其他导入或重算占用
var ErrLockBusy = errors.New("任务正在被其他操作更新，请稍后重试")
