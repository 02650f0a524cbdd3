// Package metrics 汇总对账流水线的 Prometheus 指标
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tfs_insight"

type collectors struct {
	importRows     *prometheus.CounterVec
	importTasks    *prometheus.CounterVec
	importDuration *prometheus.HistogramVec
	engineUpdates  *prometheus.CounterVec
	lockBusy       prometheus.Counter
}

var singleton = sync.OnceValue(func() *collectors {
	return &collectors{
		importRows: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_rows_total",
			Help:      "Timesheet rows seen by imports, by outcome.",
		}, []string{"result"}),
		importTasks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_tasks_total",
			Help:      "Tasks written by imports, by outcome.",
		}, []string{"result"}),
		importDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "import_duration_seconds",
			Help:      "Wall time of a full import run.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"status"}),
		engineUpdates: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_updates_total",
			Help:      "Tasks updated by the estimate and quality engines.",
		}, []string{"engine"}),
		lockBusy: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_lock_busy_total",
			Help:      "Task writes skipped because the per-task lock was held.",
		}),
	}
})

// ObserveImportRows 记录行级统计（kept / skipped_activity / skipped_invalid / contributor）
func ObserveImportRows(result string, n int) {
	if n <= 0 {
		return
	}
	singleton().importRows.WithLabelValues(result).Add(float64(n))
}

// ObserveImportTasks 记录任务写入结果（created / updated / failed）
func ObserveImportTasks(result string, n int) {
	if n <= 0 {
		return
	}
	singleton().importTasks.WithLabelValues(result).Add(float64(n))
}

func ObserveImportDuration(status string, d time.Duration) {
	singleton().importDuration.WithLabelValues(status).Observe(d.Seconds())
}

// ObserveEngineUpdates engine 取值 estimate / quality / fix_low
func ObserveEngineUpdates(engine string, n int) {
	if n <= 0 {
		return
	}
	singleton().engineUpdates.WithLabelValues(engine).Add(float64(n))
}

func IncLockBusy() {
	singleton().lockBusy.Inc()
}
