package httptransport

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"ephemail/backend/internal/service"
)

// StatsHandler 系统统计与运维相关的 HTTP 处理器（管理员）
type StatsHandler struct {
	stats     *service.StatsService
	mailboxes *service.MailboxService
}

// NewStatsHandler 创建统计处理器
func NewStatsHandler(stats *service.StatsService, mailboxes *service.MailboxService) *StatsHandler {
	return &StatsHandler{
		stats:     stats,
		mailboxes: mailboxes,
	}
}

// getOverview godoc
// @Summary 获取系统统计快照
// @Description 统计数据经缓存返回，可能滞后于真实状态
// @Tags Admin
// @Produce json
// @Success 200 {object} domain.SystemStatistics
// @Router /v1/admin/stats [get]
func (h *StatsHandler) getOverview(c *gin.Context) {
	stats, err := h.stats.Overview(c.Request.Context())
	if err != nil {
		writeDomainError(c, err)
		return
	}
	Success(c, stats)
}

// getCacheStats godoc
// @Summary 获取各缓存命名空间的命中统计
// @Tags Admin
// @Produce json
// @Success 200 {object} map[string]cache.Stats
// @Router /v1/admin/stats/cache [get]
func (h *StatsHandler) getCacheStats(c *gin.Context) {
	Success(c, h.stats.CacheStats())
}

// getTableStructure godoc
// @Summary 获取数据表结构
// @Description 仅支持 SQL 存储，内存存储返回 404
// @Tags Admin
// @Produce json
// @Param table path string true "表名"
// @Success 200 {array} domain.TableColumn
// @Failure 404 {object} Response
// @Router /v1/admin/tables/{table}/structure [get]
func (h *StatsHandler) getTableStructure(c *gin.Context) {
	columns, err := h.stats.TableStructure(c.Request.Context(), c.Param("table"))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	Success(c, gin.H{
		"table":   c.Param("table"),
		"columns": columns,
	})
}

// reclaimExpired godoc
// @Summary 批量回收过期邮箱
// @Description 将已到期但仍标记为活跃的邮箱翻转为过期并释放配额
// @Tags Admin
// @Produce json
// @Param batchSize query int false "批大小，默认 100"
// @Success 200 {object} object{reclaimed=int}
// @Router /v1/admin/maintenance/reclaim [post]
func (h *StatsHandler) reclaimExpired(c *gin.Context) {
	batchSize, _ := strconv.Atoi(c.DefaultQuery("batchSize", "100"))

	reclaimed, err := h.mailboxes.ReclaimExpired(c.Request.Context(), batchSize)
	if err != nil {
		writeDomainError(c, err)
		return
	}

	Success(c, gin.H{"reclaimed": reclaimed})
}
