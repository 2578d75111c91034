package dto

import (
	"time"

	"github.com/noah-isme/subject-registration-api/internal/models"
)

// AdminDashboardResponse captures the aggregated admin dashboard payload.
type AdminDashboardResponse struct {
	Subjects    []models.SubjectSummary `json:"subjects"`
	Totals      DashboardTotals         `json:"totals"`
	System      SystemMetrics           `json:"system"`
	GeneratedAt time.Time               `json:"generated_at"`
}

// DashboardTotals summarises the catalog.
type DashboardTotals struct {
	Subjects       int `json:"subjects"`
	OpenSubjects   int `json:"open_subjects"`
	FullSubjects   int `json:"full_subjects"`
	Registrations  int `json:"registrations"`
	RemainingSeats int `json:"remaining_seats"`
}

// SystemMetrics represents process level figures captured from instrumentation.
type SystemMetrics struct {
	CacheHitRatio            float64           `json:"cache_hit_ratio"`
	CacheHits                uint64            `json:"cache_hits"`
	CacheMisses              uint64            `json:"cache_misses"`
	RequestsTotal            uint64            `json:"requests_total"`
	AverageRequestDurationMs float64           `json:"average_request_duration_ms"`
	TxRetries                uint64            `json:"tx_retries"`
	RegistrationOutcomes     map[string]uint64 `json:"registration_outcomes"`
	Goroutines               int               `json:"goroutines"`
	GeneratedAt              time.Time         `json:"generated_at"`
}
