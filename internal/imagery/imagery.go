// Package imagery finds ground-level images near a round target.
package imagery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/playperu/geoquest/internal/geoquest"
)

// Mapillary queries the Mapillary Graph API for images inside a bounding
// box around the requested point.
type Mapillary struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewMapillary(baseURL, token string, client *http.Client) *Mapillary {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Mapillary{baseURL: baseURL, token: token, client: client}
}

type imagesResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// NearestImage returns the id of an image within radiusMeters of lat/lng,
// or geoquest.ErrNoImagery when the area has no coverage.
func (m *Mapillary) NearestImage(ctx context.Context, lat, lng float64, radiusMeters int) (string, error) {
	bound := geo.NewBoundAroundPoint(orb.Point{lng, lat}, float64(radiusMeters))

	q := url.Values{}
	q.Set("access_token", m.token)
	q.Set("fields", "id")
	q.Set("limit", "1")
	q.Set("bbox", fmt.Sprintf("%s,%s,%s,%s",
		formatCoord(bound.Min.Lon()), formatCoord(bound.Min.Lat()),
		formatCoord(bound.Max.Lon()), formatCoord(bound.Max.Lat()),
	))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/images?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("building mapillary request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling mapillary: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("mapillary responded %s", resp.Status)
	}

	var body imagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding mapillary response: %w", err)
	}
	if len(body.Data) == 0 || body.Data[0].ID == "" {
		return "", geoquest.ErrNoImagery
	}
	return body.Data[0].ID, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// Offline always "finds" an image under a random id. It lets the server run
// without a Mapillary token. The id must not reveal the point: it reaches
// players before the target does.
type Offline struct{}

func (Offline) NearestImage(context.Context, float64, float64, int) (string, error) {
	return "offline:" + uuid.NewString(), nil
}
