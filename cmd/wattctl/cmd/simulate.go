package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/wattmon/internal/ingest"
	"github.com/good-yellow-bee/wattmon/internal/models"
)

var (
	simServer   string
	simToken    string
	simSecret   string
	simSensor   string
	simCount    int
	simInterval time.Duration
	simPower    float64
	simVoltage  float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Post a batch of synthetic readings to a running server",
	Long: `Generate a series of plausible readings for one sensor and post them
to the admin batch ingest endpoint. Readings are signed when a signing
secret is given (--secret or WATTMON_INGEST_SECRET).

Example:
  wattctl simulate --server http://localhost:8080 --token $TOKEN \
    --sensor kitchen-01 --count 60 --interval 10s --power 1800`,
	RunE: func(cmd *cobra.Command, args []string) error {
		token := simToken
		if token == "" {
			token = os.Getenv("WATTMON_TOKEN")
		}
		if token == "" {
			return fmt.Errorf("an access token is required (--token or WATTMON_TOKEN)")
		}
		secret := simSecret
		if secret == "" {
			secret = os.Getenv("WATTMON_INGEST_SECRET")
		}
		if simCount <= 0 || simInterval <= 0 {
			return fmt.Errorf("--count and --interval must be positive")
		}

		gen := &readingGenerator{
			sensorID: simSensor,
			power:    simPower,
			voltage:  simVoltage,
			secret:   secret,
			rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
		}
		readings := gen.series(time.Now().UTC(), simCount, simInterval)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		resp, err := postReadings(ctx, http.DefaultClient, simServer, token, readings)
		if err != nil {
			return err
		}
		if GetOutput() == "json" {
			return printJSON(resp)
		}
		fmt.Printf("Stored %d reading(s), skipped %d.\n", resp.Stored, resp.Skipped)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	f := simulateCmd.Flags()
	f.StringVar(&simServer, "server", "http://localhost:8080", "WattMon server base URL")
	f.StringVar(&simToken, "token", "", "admin access token")
	f.StringVar(&simSecret, "secret", "", "ingest signing secret")
	f.StringVar(&simSensor, "sensor", "", "sensor external ID (required)")
	f.IntVar(&simCount, "count", 10, "number of readings")
	f.DurationVar(&simInterval, "interval", 5*time.Second, "time between readings")
	f.Float64Var(&simPower, "power", 1000, "mean active power in W")
	f.Float64Var(&simVoltage, "voltage", 230, "nominal voltage in V")
	simulateCmd.MarkFlagRequired("sensor")
}

// readingGenerator produces readings that satisfy P = V * I * pf within a
// few percent of jitter and a monotonically increasing energy counter.
type readingGenerator struct {
	sensorID string
	power    float64
	voltage  float64
	secret   string
	rng      *rand.Rand
}

// series returns count readings ending at end, oldest first.
func (g *readingGenerator) series(end time.Time, count int, interval time.Duration) []ingest.ReadingInput {
	out := make([]ingest.ReadingInput, 0, count)
	start := end.Add(-time.Duration(count-1) * interval)
	var energyKWh float64

	for i := 0; i < count; i++ {
		ts := start.Add(time.Duration(i) * interval).Format(time.RFC3339)
		power := round(math.Max(0, g.power*(1+g.jitter(0.1))), 1)
		voltage := round(g.voltage*(1+g.jitter(0.02)), 1)
		pf := round(0.9+g.jitter(0.05), 2)
		current := round(power/(voltage*pf), 3)
		energyKWh += power * interval.Hours() / 1000

		in := ingest.ReadingInput{
			SensorID:  g.sensorID,
			Timestamp: ts,
			Voltage:   models.Float(voltage),
			Current:   models.Float(current),
			Power:     models.Float(power),
			Energy:    models.Float(round(energyKWh, 4)),
			Frequency: models.Float(round(50+g.jitter(0.002)*50, 2)),
			PF:        models.Float(pf),
		}
		if g.secret != "" {
			in.Signature = ingest.Sign(g.secret, power, ts)
		}
		out = append(out, in)
	}
	return out
}

// jitter returns a uniform value in [-spread, spread).
func (g *readingGenerator) jitter(spread float64) float64 {
	return (g.rng.Float64()*2 - 1) * spread
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

type ingestResponse struct {
	Status  string `json:"status"`
	Stored  int    `json:"stored"`
	Skipped int    `json:"skipped"`
}

// postReadings sends one batch to the admin ingest endpoint.
func postReadings(ctx context.Context, client *http.Client, server, token string, readings []ingest.ReadingInput) (*ingestResponse, error) {
	body, err := json.Marshal(readings)
	if err != nil {
		return nil, fmt.Errorf("encode readings: %w", err)
	}

	url := strings.TrimRight(server, "/") + "/api/v1/admin/readings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post readings: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated {
		var envelope struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &envelope) == nil && envelope.Error.Message != "" {
			if len(envelope.Error.Details) > 0 {
				return nil, fmt.Errorf("server rejected readings (%d %s): %s %v",
					resp.StatusCode, envelope.Error.Code, envelope.Error.Message, envelope.Error.Details)
			}
			return nil, fmt.Errorf("server rejected readings (%d %s): %s",
				resp.StatusCode, envelope.Error.Code, envelope.Error.Message)
		}
		return nil, fmt.Errorf("server returned %d", resp.StatusCode)
	}

	var envelope struct {
		Data ingestResponse `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &envelope.Data, nil
}
