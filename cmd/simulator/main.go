// The simulator pushes synthetic alert events at a running alert router.
// It fires and resolves alerts for a set of fake services, including paired
// critical/warning alerts so inhibition behavior can be observed.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultServiceCount = 5
	defaultIntervalMs   = 5000
)

// AlertEvent mirrors the router's inbound alert payload.
type AlertEvent struct {
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations,omitempty"`
	State       string            `json:"state,omitempty"`
	StartsAt    time.Time         `json:"startsAt,omitempty"`
	EndsAt      time.Time         `json:"endsAt,omitempty"`
}

func main() {
	routerURL := getEnv("ALERT_ROUTER_URL", "http://localhost:9093")
	serviceCount, _ := strconv.Atoi(getEnv("SERVICE_COUNT", fmt.Sprintf("%d", defaultServiceCount)))
	intervalMs, _ := strconv.Atoi(getEnv("INTERVAL_MS", fmt.Sprintf("%d", defaultIntervalMs)))

	logrus.Infof("Simulating %d services against %s every %d ms", serviceCount, routerURL, intervalMs)

	firing := make(map[string]bool)

	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		var batch []AlertEvent
		now := time.Now()

		for i := 1; i <= serviceCount; i++ {
			service := fmt.Sprintf("neuroca-svc-%d", i)

			// Flip each service's state with some probability.
			switch {
			case !firing[service] && rand.Float64() < 0.3:
				firing[service] = true
				batch = append(batch, serviceDownEvents(service, "firing", now, time.Time{})...)
				logrus.Infof("Service %s went down", service)

			case firing[service] && rand.Float64() < 0.4:
				firing[service] = false
				batch = append(batch, serviceDownEvents(service, "resolved", now.Add(-time.Minute), now)...)
				logrus.Infof("Service %s recovered", service)

			case firing[service]:
				// Re-fire so the alert does not hit its resolve timeout.
				batch = append(batch, serviceDownEvents(service, "firing", now, time.Time{})...)
			}
		}

		if len(batch) == 0 {
			continue
		}
		if err := postAlerts(routerURL, batch); err != nil {
			logrus.Errorf("Failed to push %d alert events: %v", len(batch), err)
		} else {
			logrus.Debugf("Pushed %d alert events", len(batch))
		}
	}
}

// serviceDownEvents emits a critical alert plus a warning-severity shadow of
// it, which the default inhibition rule should suppress while the critical
// one fires.
func serviceDownEvents(service, state string, startsAt, endsAt time.Time) []AlertEvent {
	events := make([]AlertEvent, 0, 2)
	for _, severity := range []string{"critical", "warning"} {
		events = append(events, AlertEvent{
			Labels: map[string]string{
				"alertname": "NeurocaServiceDown",
				"service":   service,
				"severity":  severity,
				"namespace": "neuroca",
			},
			Annotations: map[string]string{
				"summary": fmt.Sprintf("Service %s is not responding", service),
			},
			State:    state,
			StartsAt: startsAt,
			EndsAt:   endsAt,
		})
	}
	return events
}

func postAlerts(routerURL string, batch []AlertEvent) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return err
	}

	resp, err := http.Post(routerURL+"/api/v1/alerts", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("router returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
