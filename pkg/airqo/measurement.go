package airqo

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/airqo-platform/heatmap-cli/internal/model"
)

type pageResponse struct {
	Meta         *pageMeta         `json:"meta"`
	Measurements []json.RawMessage `json:"measurements"`
}

type pageMeta struct {
	Page      int    `json:"page"`
	Pages     int    `json:"pages"`
	Total     int    `json:"total"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

// measurement is the part of an API record the pipeline consumes.
type measurement struct {
	Time        time.Time    `json:"time" validate:"required"`
	PM25        *valueField  `json:"pm2_5" validate:"required"`
	SiteDetails *siteDetails `json:"siteDetails" validate:"required"`
}

type valueField struct {
	Value *float64 `json:"value" validate:"required,gte=0"`
}

type siteDetails struct {
	City         string        `json:"city" validate:"required"`
	Country      string        `json:"country" validate:"required"`
	SiteCategory *siteCategory `json:"site_category" validate:"required"`
}

type siteCategory struct {
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
}

// parse decodes and validates one record.
func (c *Client) parse(raw json.RawMessage) (model.SensorReading, error) {
	var m measurement
	if err := json.Unmarshal(raw, &m); err != nil {
		return model.SensorReading{}, eris.Wrapf(model.ErrValidation, "airqo: decode measurement: %v", err)
	}
	if err := c.validate.Struct(&m); err != nil {
		return model.SensorReading{}, eris.Wrapf(model.ErrValidation, "airqo: invalid measurement: %v", err)
	}

	r := model.SensorReading{
		Latitude:  *m.SiteDetails.SiteCategory.Latitude,
		Longitude: *m.SiteDetails.SiteCategory.Longitude,
		PM25:      *m.PM25.Value,
		Timestamp: m.Time.UTC(),
		City:      strings.TrimSpace(m.SiteDetails.City),
		Country:   strings.TrimSpace(m.SiteDetails.Country),
	}
	if !r.Valid() || r.City == "" {
		return model.SensorReading{}, eris.Wrap(model.ErrValidation, "airqo: non-finite or negative measurement")
	}
	return r, nil
}
