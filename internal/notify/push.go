package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// PushNotifier delivers over the driver's websocket when a session exists
// and otherwise posts the event to an external push gateway (FCM proxy or
// driver-app backend). A request with no session and no gateway fails with
// ErrNoSession so the caller can count the miss.
type PushNotifier struct {
	Registry *Registry
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewPushNotifier(reg *Registry, endpoint, key string) *PushNotifier {
	return &PushNotifier{
		Registry: reg,
		Endpoint: endpoint,
		Key:      key,
		Client:   &http.Client{Timeout: 3 * time.Second},
	}
}

func (p *PushNotifier) Publish(driverID, event string, payload any) error {
	err := p.Registry.Publish(driverID, event, payload)
	if err == nil || p.Endpoint == "" {
		return err
	}
	body := map[string]any{
		"driver_id": driverID,
		"event":     event,
		"payload":   payload,
	}
	b, _ := json.Marshal(body)
	req, err := http.NewRequest(http.MethodPost, p.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Key != "" {
		req.Header.Set("Authorization", "Bearer "+p.Key)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("push gateway status %d", resp.StatusCode)
	}
	return nil
}
