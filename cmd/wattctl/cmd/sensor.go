package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/wattmon/internal/models"
	"github.com/good-yellow-bee/wattmon/internal/storage"
)

var (
	sensorHouse      string
	sensorName       string
	sensorExternalID string
	sensorLocation   string
	sensorID         string
	sensorOffline    int

	thresholdPower      float64
	thresholdCurrent    float64
	thresholdVoltageMin float64
	thresholdVoltageMax float64
	thresholdClear      bool
	sensorDeactivate    bool
	sensorActivate      bool
)

// sensorCmd represents the sensor command group
var sensorCmd = &cobra.Command{
	Use:   "sensor",
	Short: "Sensor management commands",
	Long: `Commands for registering metering devices and tuning their alert thresholds.

Examples:
  # Register a sensor that publishes as "kitchen-01"
  wattctl sensor create --house <house-id> --name Kitchen --external-id kitchen-01

  # Alert above 2 kW and outside 207..253 V
  wattctl sensor thresholds --id kitchen-01 --power 2000 --voltage-min 207 --voltage-max 253`,
}

var sensorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sensors",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDatabase(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()
		var sensors []*models.Sensor
		if sensorHouse != "" {
			sensors, err = store.Sensors().ListByHouse(ctx, sensorHouse)
		} else {
			sensors, err = store.Sensors().List(ctx)
		}
		if err != nil {
			return fmt.Errorf("list sensors: %w", err)
		}

		if GetOutput() == "json" {
			return printJSON(sensors)
		}
		if len(sensors) == 0 {
			fmt.Println("No sensors found.")
			return nil
		}

		now := time.Now()
		fmt.Printf("\n%-36s  %-16s  %-20s  %-8s  %-7s  %-8s  %s\n",
			"ID", "EXTERNAL ID", "NAME", "ACTIVE", "STATUS", "POWER W", "LAST SEEN")
		fmt.Println(strings.Repeat("-", 130))
		for _, s := range sensors {
			status, lastSeen := "offline", "never"
			latest, err := store.Readings().Latest(ctx, s.ID, 1)
			if err != nil {
				PrintVerbose("Warning: could not fetch latest reading for %s: %v", s.ID, err)
			}
			if len(latest) > 0 {
				lastSeen = latest[0].Timestamp.Local().Format("2006-01-02 15:04:05")
				if s.IsOnlineAt(latest[0].Timestamp, now) {
					status = "online"
				}
			}
			external := "-"
			if s.ExternalID != nil {
				external = *s.ExternalID
			}
			fmt.Printf("%-36s  %-16s  %-20s  %-8t  %-7s  %-8s  %s\n",
				s.ID,
				truncate(external, 16),
				truncate(s.Name, 20),
				s.IsActive,
				status,
				formatFloat(s.PowerThreshold),
				lastSeen,
			)
		}
		fmt.Printf("\nTotal: %d sensor(s)\n", len(sensors))
		return nil
	},
}

var sensorCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a sensor in a house",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDatabase(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		sensor, err := createSensor(context.Background(), store, sensorHouse, sensorName, sensorExternalID, sensorLocation, sensorOffline)
		if err != nil {
			return err
		}

		fmt.Printf("\nSensor created successfully:\n")
		fmt.Printf("  ID:          %s\n", sensor.ID)
		fmt.Printf("  Name:        %s\n", sensor.Name)
		fmt.Printf("  House:       %s\n", sensor.HouseID)
		if sensor.ExternalID != nil {
			fmt.Printf("  External ID: %s\n", *sensor.ExternalID)
		}
		fmt.Printf("  Offline after: %s\n", sensor.OfflineThreshold())
		return nil
	},
}

var sensorThresholdsCmd = &cobra.Command{
	Use:   "thresholds",
	Short: "Set alert thresholds and activation for a sensor",
	Long: `Set alert thresholds for a sensor. Only the flags given are changed.

Example:
  wattctl sensor thresholds --id kitchen-01 --power 2000
  wattctl sensor thresholds --id kitchen-01 --clear
  wattctl sensor thresholds --id kitchen-01 --deactivate`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDatabase(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()
		sensor, err := findSensor(ctx, store, sensorID)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		update := thresholdUpdate{clear: thresholdClear}
		if flags.Changed("power") {
			update.power = models.Float(thresholdPower)
		}
		if flags.Changed("current") {
			update.current = models.Float(thresholdCurrent)
		}
		if flags.Changed("voltage-min") {
			update.voltageMin = models.Float(thresholdVoltageMin)
		}
		if flags.Changed("voltage-max") {
			update.voltageMax = models.Float(thresholdVoltageMax)
		}
		if flags.Changed("offline-after") {
			update.offlineSeconds = &sensorOffline
		}
		switch {
		case sensorActivate && sensorDeactivate:
			return fmt.Errorf("--activate and --deactivate are mutually exclusive")
		case sensorActivate:
			update.active = boolPtr(true)
		case sensorDeactivate:
			update.active = boolPtr(false)
		}

		if err := update.apply(sensor); err != nil {
			return err
		}
		sensor.UpdatedAt = time.Now().UTC()
		if err := store.Sensors().Update(ctx, sensor); err != nil {
			return fmt.Errorf("update sensor: %w", err)
		}

		fmt.Printf("\nSensor '%s' updated:\n", sensor.Name)
		fmt.Printf("  Active:       %t\n", sensor.IsActive)
		fmt.Printf("  Power:        %s W\n", formatFloat(sensor.PowerThreshold))
		fmt.Printf("  Current:      %s A\n", formatFloat(sensor.CurrentThreshold))
		fmt.Printf("  Voltage min:  %s V\n", formatFloat(sensor.VoltageMinThreshold))
		fmt.Printf("  Voltage max:  %s V\n", formatFloat(sensor.VoltageMaxThreshold))
		fmt.Printf("  Offline after: %s\n", sensor.OfflineThreshold())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sensorCmd)
	sensorCmd.AddCommand(sensorListCmd)
	sensorCmd.AddCommand(sensorCreateCmd)
	sensorCmd.AddCommand(sensorThresholdsCmd)

	for _, cmd := range []*cobra.Command{sensorListCmd, sensorCreateCmd, sensorThresholdsCmd} {
		cmd.Flags().StringVar(&dbPath, "db", defaultDBPath, "path to SQLite database file")
	}

	sensorListCmd.Flags().StringVar(&sensorHouse, "house", "", "only sensors of this house ID")

	sensorCreateCmd.Flags().StringVar(&sensorHouse, "house", "", "house ID (required)")
	sensorCreateCmd.Flags().StringVar(&sensorName, "name", "", "sensor name (required)")
	sensorCreateCmd.Flags().StringVar(&sensorExternalID, "external-id", "", "identifier the device sends readings with")
	sensorCreateCmd.Flags().StringVar(&sensorLocation, "location", "", "where the sensor is installed")
	sensorCreateCmd.Flags().IntVar(&sensorOffline, "offline-after", models.DefaultOfflineThresholdSeconds, "seconds of silence before the sensor is offline")
	sensorCreateCmd.MarkFlagRequired("house")
	sensorCreateCmd.MarkFlagRequired("name")

	f := sensorThresholdsCmd.Flags()
	f.StringVar(&sensorID, "id", "", "sensor ID or external ID (required)")
	f.Float64Var(&thresholdPower, "power", 0, "power threshold in W")
	f.Float64Var(&thresholdCurrent, "current", 0, "current threshold in A")
	f.Float64Var(&thresholdVoltageMin, "voltage-min", 0, "minimum voltage in V")
	f.Float64Var(&thresholdVoltageMax, "voltage-max", 0, "maximum voltage in V")
	f.IntVar(&sensorOffline, "offline-after", models.DefaultOfflineThresholdSeconds, "seconds of silence before the sensor is offline")
	f.BoolVar(&thresholdClear, "clear", false, "remove all thresholds before applying the others")
	f.BoolVar(&sensorActivate, "activate", false, "mark the sensor active")
	f.BoolVar(&sensorDeactivate, "deactivate", false, "mark the sensor inactive")
	sensorThresholdsCmd.MarkFlagRequired("id")
}

func createSensor(ctx context.Context, store storage.Storage, houseID, name, externalID, location string, offlineSeconds int) (*models.Sensor, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("--name is required")
	}
	if offlineSeconds <= 0 {
		return nil, fmt.Errorf("offline-after must be positive")
	}
	if _, err := store.Houses().GetByID(ctx, houseID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("house '%s' not found", houseID)
		}
		return nil, fmt.Errorf("get house: %w", err)
	}

	sensor := models.NewSensor(houseID, name)
	sensor.ID = uuid.New().String()
	sensor.Location = strings.TrimSpace(location)
	sensor.OfflineThresholdSeconds = offlineSeconds
	if ext := strings.TrimSpace(externalID); ext != "" {
		sensor.ExternalID = &ext
	}

	if err := store.Sensors().Create(ctx, sensor); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, fmt.Errorf("external id '%s' is already registered", externalID)
		}
		return nil, fmt.Errorf("create sensor: %w", err)
	}
	return sensor, nil
}

// findSensor looks a sensor up by ID, then by external ID.
func findSensor(ctx context.Context, store storage.Storage, ref string) (*models.Sensor, error) {
	sensor, err := store.Sensors().GetByID(ctx, ref)
	if errors.Is(err, storage.ErrNotFound) {
		sensor, err = store.Sensors().GetByExternalID(ctx, ref)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("sensor '%s' not found", ref)
	}
	return sensor, err
}

type thresholdUpdate struct {
	clear          bool
	power          *float64
	current        *float64
	voltageMin     *float64
	voltageMax     *float64
	offlineSeconds *int
	active         *bool
}

func (u thresholdUpdate) apply(s *models.Sensor) error {
	if u.clear {
		s.PowerThreshold = nil
		s.CurrentThreshold = nil
		s.VoltageMinThreshold = nil
		s.VoltageMaxThreshold = nil
	}
	for _, v := range []*float64{u.power, u.current, u.voltageMin, u.voltageMax} {
		if v != nil && *v < 0 {
			return fmt.Errorf("thresholds must not be negative")
		}
	}
	if u.power != nil {
		s.PowerThreshold = u.power
	}
	if u.current != nil {
		s.CurrentThreshold = u.current
	}
	if u.voltageMin != nil {
		s.VoltageMinThreshold = u.voltageMin
	}
	if u.voltageMax != nil {
		s.VoltageMaxThreshold = u.voltageMax
	}
	if s.VoltageMinThreshold != nil && s.VoltageMaxThreshold != nil &&
		*s.VoltageMinThreshold >= *s.VoltageMaxThreshold {
		return fmt.Errorf("voltage-min must be below voltage-max")
	}
	if u.offlineSeconds != nil {
		if *u.offlineSeconds <= 0 {
			return fmt.Errorf("offline-after must be positive")
		}
		s.OfflineThresholdSeconds = *u.offlineSeconds
	}
	if u.active != nil {
		s.IsActive = *u.active
	}
	return nil
}

func boolPtr(b bool) *bool {
	return &b
}
