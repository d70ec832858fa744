package domain

import "time"

// SystemStatistics 系统统计信息
type SystemStatistics struct {
	TotalUsers      int       `json:"totalUsers"`
	TotalMailboxes  int       `json:"totalMailboxes"`
	ActiveMailboxes int       `json:"activeMailboxes"`
	TotalMessages   int       `json:"totalMessages"`
	MessagesToday   int       `json:"messagesToday"`
	QuotaReserved   int64     `json:"quotaReserved"` // 全体用户已占用的配额单位之和
	GeneratedAt     time.Time `json:"generatedAt"`
}

// TableColumn 描述持久存储中一张表的单个字段。
//
// 字段结构在运行期间几乎不变，适合长 TTL 缓存。
type TableColumn struct {
	Name     string `json:"name"`
	DataType string `json:"dataType"`
	Nullable bool   `json:"nullable"`
}
