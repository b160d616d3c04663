package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fetchez/fetchez/pkg/fred"
	"github.com/fetchez/fetchez/pkg/recipe"
)

func newFredCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fred",
		Short: "Query a survey index",
		Long: `Query a FRED survey index: the GeoJSON feature collection that maps
remote surveys to their footprints and metadata. The local module resolves
entries from such an index instead of hitting the network.`,
	}
	cmd.AddCommand(newFredSearchCommand())
	cmd.AddCommand(newFredIngestCommand())
	cmd.AddCommand(newFredScanCommand())
	return cmd
}

func newFredIngestCommand() *cobra.Command {
	var indexPath string

	cmd := &cobra.Command{
		Use:   "ingest <surveys.csv|surveys.json>",
		Short: "Add surveys from a CSV or JSON list file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := fred.Open(indexPath)
			if err != nil {
				return err
			}
			n, err := idx.Ingest(args[0])
			if err != nil {
				return err
			}
			if err := idx.Save(); err != nil {
				return err
			}
			fmt.Printf("ingested %d survey(s) into %s\n", n, indexPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&indexPath, "index", "fred.geojson", "survey index path")
	return cmd
}

func newFredScanCommand() *cobra.Command {
	var (
		indexPath string
		source    string
		region    []float64
	)

	cmd := &cobra.Command{
		Use:   "scan <directory>",
		Short: "Index local data files under a directory",
		Long: `Index every recognised data file under a directory as a survey. The
--region flag is the coverage claimed for the scanned files; per-file bounds
would need format readers the index does not carry.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(region) != 4 {
				return fmt.Errorf("region wants 4 values (west,east,south,north), got %d", len(region))
			}
			idx, err := fred.Open(indexPath)
			if err != nil {
				return err
			}
			footprint := recipe.Region{
				West: region[0], East: region[1], South: region[2], North: region[3],
			}
			n, err := idx.Scan(args[0], source, footprint)
			if err != nil {
				return err
			}
			if err := idx.Save(); err != nil {
				return err
			}
			fmt.Printf("indexed %d file(s) into %s\n", n, indexPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&indexPath, "index", "fred.geojson", "survey index path")
	cmd.Flags().StringVar(&source, "source", "scan", "data source name for indexed files")
	cmd.Flags().Float64SliceVar(&region, "region", nil, "claimed coverage: west,east,south,north")
	return cmd
}

func newFredSearchCommand() *cobra.Command {
	var (
		indexPath  string
		region     []float64
		where      string
		dataType   string
		dataSource string
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search surveys by region and metadata",
		Example: `  # Surveys intersecting a bounding box (west east south north)
  fetchez fred search --index fred.geojson --region -120,-119.75,33,33.25

  # Lidar surveys from one agency
  fetchez fred search --index fred.geojson --datatype lidar --where "Agency = 'NOAA'"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := fred.Open(indexPath)
			if err != nil {
				return err
			}

			filter := fred.Filter{
				Where:      where,
				DataType:   dataType,
				DataSource: dataSource,
			}
			if len(region) > 0 {
				if len(region) != 4 {
					return fmt.Errorf("region wants 4 values (west,east,south,north), got %d", len(region))
				}
				filter.Region = &recipe.Region{
					West: region[0], East: region[1], South: region[2], North: region[3],
				}
			}

			surveys, err := idx.Search(filter)
			if err != nil {
				return err
			}

			if jsonOutput {
				data, err := json.MarshalIndent(surveys, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}
			for _, s := range surveys {
				fmt.Printf("%-30s %-10s %-8s %s\n", s.Name, s.DataType, s.Date, s.DataLink)
			}
			fmt.Printf("%d survey(s)\n", len(surveys))
			return nil
		},
	}

	cmd.Flags().StringVar(&indexPath, "index", "fred.geojson", "survey index path")
	cmd.Flags().Float64SliceVar(&region, "region", nil, "bounding box: west,east,south,north")
	cmd.Flags().StringVar(&where, "where", "", `metadata predicate, e.g. "Agency = 'NOAA'"`)
	cmd.Flags().StringVar(&dataType, "datatype", "", "filter by data type")
	cmd.Flags().StringVar(&dataSource, "datasource", "", "filter by data source")

	return cmd
}
