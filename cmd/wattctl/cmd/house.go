package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/wattmon/internal/energy"
	"github.com/good-yellow-bee/wattmon/internal/models"
	"github.com/good-yellow-bee/wattmon/internal/storage"
)

var (
	houseOwner   string
	houseName    string
	houseAddress string
	housePrice   float64
	houseLimit   float64
	houseEmail   string
	houseID      string
)

// houseCmd represents the house command group
var houseCmd = &cobra.Command{
	Use:   "house",
	Short: "House management commands",
	Long: `Commands for managing metered houses.

Examples:
  # List all houses
  wattctl house list

  # Create a house with a monthly limit of 300 kWh
  wattctl house create --owner alice --name "Main St 4" --price 0.95 --limit 300

  # Show consumption statistics
  wattctl house stats --id <house-id>`,
}

var houseListCmd = &cobra.Command{
	Use:   "list",
	Short: "List houses",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDatabase(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()
		var houses []*models.House
		if houseOwner != "" {
			owner, err := resolveUser(ctx, store, houseOwner)
			if err != nil {
				return err
			}
			houses, err = store.Houses().ListByOwner(ctx, owner.ID)
			if err != nil {
				return fmt.Errorf("list houses: %w", err)
			}
		} else if houses, err = store.Houses().List(ctx); err != nil {
			return fmt.Errorf("list houses: %w", err)
		}

		if GetOutput() == "json" {
			return printJSON(houses)
		}
		if len(houses) == 0 {
			fmt.Println("No houses found.")
			return nil
		}

		fmt.Printf("\n%-36s  %-24s  %-36s  %-8s  %s\n",
			"ID", "NAME", "OWNER", "PRICE", "LIMIT KWH")
		fmt.Println(strings.Repeat("-", 120))
		for _, h := range houses {
			fmt.Printf("%-36s  %-24s  %-36s  %-8.2f  %s\n",
				h.ID,
				truncate(h.Name, 24),
				h.OwnerID,
				h.PricePerKWh,
				formatFloat(h.MonthlyLimitKWh),
			)
		}
		fmt.Printf("\nTotal: %d house(s)\n", len(houses))
		return nil
	},
}

var houseCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a house",
	Long: `Create a house owned by an existing user.

Example:
  wattctl house create --owner alice --name "Main St 4" --price 0.95 --limit 300`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDatabase(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		house, err := createHouse(context.Background(), store, houseParams{
			owner:    houseOwner,
			name:     houseName,
			address:  houseAddress,
			price:    housePrice,
			limit:    optionalFloat(houseLimit, cmd.Flags().Changed("limit")),
			email:    houseEmail,
			hasPrice: cmd.Flags().Changed("price"),
		})
		if err != nil {
			return err
		}

		fmt.Printf("\nHouse created successfully:\n")
		fmt.Printf("  ID:     %s\n", house.ID)
		fmt.Printf("  Name:   %s\n", house.Name)
		fmt.Printf("  Owner:  %s\n", house.OwnerID)
		fmt.Printf("  Price:  %.2f per kWh\n", house.PricePerKWh)
		fmt.Printf("  Limit:  %s kWh\n", formatFloat(house.MonthlyLimitKWh))
		return nil
	},
}

var houseStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show consumption statistics for a house",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDatabase(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()
		house, err := store.Houses().GetByID(ctx, houseID)
		if err != nil {
			return fmt.Errorf("get house: %w", err)
		}

		calc := energy.NewCalculator(store.Readings(), store.Sensors(), nil)
		stats, err := calc.Statistics(ctx, house)
		if err != nil {
			return fmt.Errorf("compute statistics: %w", err)
		}
		if GetOutput() == "json" {
			return printJSON(stats)
		}

		fmt.Printf("\n%s\n", house.Name)
		fmt.Printf("  Month to date: %.3f kWh (%.2f)\n", stats.MonthlyKWh, stats.MonthlyCost)
		if stats.LimitUsedPercent != nil {
			fmt.Printf("  Limit used:    %.1f%%\n", *stats.LimitUsedPercent)
		}
		if len(stats.SensorRankings) > 0 {
			fmt.Println("  Top sensors:")
			for _, s := range stats.SensorRankings {
				fmt.Printf("    %-24s  %.3f kWh\n", truncate(s.SensorName, 24), s.KWh)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(houseCmd)
	houseCmd.AddCommand(houseListCmd)
	houseCmd.AddCommand(houseCreateCmd)
	houseCmd.AddCommand(houseStatsCmd)

	for _, cmd := range []*cobra.Command{houseListCmd, houseCreateCmd, houseStatsCmd} {
		cmd.Flags().StringVar(&dbPath, "db", defaultDBPath, "path to SQLite database file")
	}

	houseListCmd.Flags().StringVar(&houseOwner, "owner", "", "only houses of this user (username or ID)")

	houseCreateCmd.Flags().StringVar(&houseOwner, "owner", "", "owning user, username or ID (required)")
	houseCreateCmd.Flags().StringVar(&houseName, "name", "", "house name (required)")
	houseCreateCmd.Flags().StringVar(&houseAddress, "address", "", "street address")
	houseCreateCmd.Flags().Float64Var(&housePrice, "price", models.DefaultPricePerKWh, "price per kWh")
	houseCreateCmd.Flags().Float64Var(&houseLimit, "limit", 0, "monthly consumption limit in kWh")
	houseCreateCmd.Flags().StringVar(&houseEmail, "alert-email", "", "address for alert digests (defaults to the owner's)")
	houseCreateCmd.MarkFlagRequired("owner")
	houseCreateCmd.MarkFlagRequired("name")

	houseStatsCmd.Flags().StringVar(&houseID, "id", "", "house ID (required)")
	houseStatsCmd.MarkFlagRequired("id")
}

type houseParams struct {
	owner    string
	name     string
	address  string
	price    float64
	hasPrice bool
	limit    *float64
	email    string
}

func createHouse(ctx context.Context, store storage.Storage, p houseParams) (*models.House, error) {
	name := strings.TrimSpace(p.name)
	if name == "" {
		return nil, fmt.Errorf("--name is required")
	}
	if p.hasPrice && p.price < 0 {
		return nil, fmt.Errorf("price must not be negative")
	}
	if p.limit != nil && *p.limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}

	owner, err := resolveUser(ctx, store, p.owner)
	if err != nil {
		return nil, err
	}

	house := models.NewHouse(owner.ID, name)
	house.ID = uuid.New().String()
	house.Address = strings.TrimSpace(p.address)
	if p.hasPrice {
		house.PricePerKWh = p.price
	}
	house.MonthlyLimitKWh = p.limit
	house.AlertEmail = strings.TrimSpace(p.email)

	if err := store.Houses().Create(ctx, house); err != nil {
		return nil, fmt.Errorf("create house: %w", err)
	}
	return house, nil
}
