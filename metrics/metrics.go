package metrics

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type SceneInfo struct {
	Considered int `json:"considered"`
	Fetched    int `json:"fetched"`
	Used       int `json:"used"`
	Skipped    int `json:"skipped"`
}

type FetchInfo struct {
	Duration     time.Duration `json:"duration"`
	BandsFetched int           `json:"bands_fetched"`
	BytesRead    int64         `json:"bytes_read"`
	Errors       int           `json:"errors"`
}

type MetricsInfo struct {
	RequestID      string        `json:"request_id"`
	ReqTime        string        `json:"req_time"`
	ReqDuration    time.Duration `json:"req_duration"`
	Mode           string        `json:"mode"`
	Product        string        `json:"product"`
	Geometry       [4]float64    `json:"geometry_bbox"`
	CRS            string        `json:"crs"`
	Scenes         *SceneInfo    `json:"scenes"`
	Fetch          *FetchInfo    `json:"fetch"`
	FullyPopulated bool          `json:"fully_populated"`
	Unobserved     int           `json:"unobserved_pixels"`
	Error          string        `json:"error,omitempty"`
}

type MetricsCollector struct {
	Info   *MetricsInfo
	logger Logger
}

func NewMetricsCollector(logger Logger) *MetricsCollector {
	return &MetricsCollector{
		Info: &MetricsInfo{
			RequestID: uuid.New().String(),
			Scenes:    &SceneInfo{},
			Fetch:     &FetchInfo{},
		},
		logger: logger,
	}
}

// Start stamps the request time.
func (m *MetricsCollector) Start(t time.Time) {
	m.Info.ReqTime = t.UTC().Format(time.RFC3339Nano)
}

func (m *MetricsCollector) Log() {
	if m.logger != nil {
		m.logger.Log(m.Info)
	}
}

func (i *MetricsInfo) ToJSON() (string, error) {
	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(i)
	if err == nil {
		return buf.String(), nil
	} else {
		return "", err
	}
}
