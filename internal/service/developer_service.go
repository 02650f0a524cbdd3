package service

import (
	"context"

	"go.uber.org/zap"

	"tfs-insight/backend/internal/dto"
	"tfs-insight/backend/internal/repository"
)

// DeveloperService 开发者档案（只读，由导入维护）
type DeveloperService interface {
	List(ctx context.Context, req *dto.PaginationRequest) ([]dto.DeveloperResponse, int64, error)
}

type developerService struct {
	repo   *repository.Repository
	logger *zap.Logger
}

// NewDeveloperService 创建 DeveloperService 实例
func NewDeveloperService(repo *repository.Repository, logger *zap.Logger) DeveloperService {
	return &developerService{repo: repo, logger: logger}
}

func (s *developerService) List(ctx context.Context, req *dto.PaginationRequest) ([]dto.DeveloperResponse, int64, error) {
	devs, total, err := s.repo.Developer.List(ctx, req.GetOffset(), req.GetPageSize())
	if err != nil {
		s.logger.Error("查询开发者列表失败", zap.Error(err))
		return nil, 0, err
	}
	list := make([]dto.DeveloperResponse, 0, len(devs))
	for _, d := range devs {
		list = append(list, dto.DeveloperResponse{
			EmployeeID: d.EmployeeID,
			Name:       d.Name,
			Title:      d.Title,
			TotalHours: d.TotalHours,
			TaskCount:  d.TaskCount,
		})
	}
	return list, total, nil
}
