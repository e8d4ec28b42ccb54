package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// DefaultDeviceID is assumed when an ingest payload does not name a device.
const DefaultDeviceID = "esp32-1"

// RetentionWindow is how long a reading stays observable. Anything older is
// filtered out of every query and eventually deleted by the sweeper.
const RetentionWindow = 30 * time.Minute

type Reading struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	DeviceID    string         `gorm:"index:idx_device_ts,priority:1" json:"deviceId"`
	Temperature float64        `json:"temperature"`
	Humidity    float64        `json:"humidity"`
	TS          time.Time      `gorm:"index:idx_device_ts,priority:2" json:"ts"`
	Raw         datatypes.JSON `gorm:"type:jsonb" json:"-"`
	IngestedAt  time.Time      `json:"-"`
}
