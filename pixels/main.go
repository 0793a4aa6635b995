package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nci/pixels/algebra"
	"github.com/nci/pixels/metrics"
	"github.com/nci/pixels/processor"
	"github.com/nci/pixels/utils"
	"github.com/nci/pixels/worker"
)

var (
	verbose      bool
	configFile   string
	productName  string
	geometryFile string
	geometryCRS  string
	sceneFile    string
	startDate    string
	endDate      string
	outDir       string
	metricsDir   string

	listenAddr string
	dataRoot   string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "pixels",
	Short: "Cloud free composites and latest pixel stacks from satellite scenes",
	Long: `pixels combines the scenes returned by a catalog search into a single
raster over an area of interest.

In latest mode the newest valid observation of every pixel is kept. In
composite mode every scene is classified for clouds, shadows and snow and
the least contaminated observation is selected per pixel.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = utils.NewLogger(verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Stack the newest valid pixels of the candidate scenes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProduct(cmd.Context(), utils.ModeLatest)
	},
}

var compositeCmd = &cobra.Command{
	Use:   "composite",
	Short: "Build a cloud minimised composite of the candidate scenes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProduct(cmd.Context(), utils.ModeComposite)
	},
}

var evalCmd = &cobra.Command{
	Use:   "eval EXPRESSION",
	Short: "Parse a band formula and print its syntax tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := algebra.Parse(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "tree:  %s\nbands: %s\n", f, strings.Join(f.Bands(), ", "))
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve raw band files under --data to remote pipelines over gRPC",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "Configuration file")

	for _, cmd := range []*cobra.Command{latestCmd, compositeCmd} {
		cmd.Flags().StringVarP(&productName, "product", "p", "", "Product to generate")
		cmd.Flags().StringVarP(&geometryFile, "geometry", "g", "", "GeoJSON file with the area of interest")
		cmd.Flags().StringVar(&geometryCRS, "crs", "", "CRS of the geometry, defaults to the product CRS")
		cmd.Flags().StringVarP(&sceneFile, "scenes", "s", "", "YAML list of candidate scenes")
		cmd.Flags().StringVar(&startDate, "start", "", "Earliest scene date (inclusive)")
		cmd.Flags().StringVar(&endDate, "end", "", "Latest scene date (inclusive)")
		cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Output directory")
		cmd.Flags().StringVar(&metricsDir, "metrics-dir", "", "Directory for request metrics, logged when empty")
		cmd.MarkFlagRequired("product")
		cmd.MarkFlagRequired("geometry")
		cmd.MarkFlagRequired("scenes")
	}

	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", ":6000", "gRPC listening address")
	serveCmd.Flags().StringVarP(&dataRoot, "data", "d", ".", "Root directory of the raw band files")

	rootCmd.AddCommand(latestCmd, compositeCmd, evalCmd, serveCmd)
}

func loadConfig() (*utils.Config, error) {
	config := &utils.Config{}
	if err := config.LoadConfigFile(configFile, algebra.Validate); err != nil {
		return nil, err
	}
	return config, nil
}

func parseDate(s string, endOfDay bool) (time.Time, error) {
	if len(s) == 0 {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if endOfDay && layout == "2006-01-02" {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

func newFetcher(config *utils.Config) (utils.Fetcher, func(), error) {
	client, err := worker.NewClient(config.Service.WorkerNodes, config.Service.MaxGrpcRecvMsgSize, logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { client.Close() }
	if len(config.Service.MemcacheAddress) > 0 {
		return worker.NewCachedFetcher(client, config.Service.MemcacheAddress, logger), cleanup, nil
	}
	return client, cleanup, nil
}

func newMetricsLogger() (metrics.Logger, func()) {
	if len(metricsDir) == 0 {
		return metrics.NewZapLogger(logger), func() {}
	}
	fl := metrics.NewFileLogger(metricsDir, 0, 0, logger)
	return fl, fl.Close
}

func runProduct(ctx context.Context, mode string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	product, err := config.GetProduct(productName)
	if err != nil {
		return err
	}
	if product.Mode != mode {
		return fmt.Errorf("product %s is configured for %s mode", product.Name, product.Mode)
	}

	crs := geometryCRS
	if len(crs) == 0 {
		crs = product.CRS
	}
	geojson, err := os.ReadFile(geometryFile)
	if err != nil {
		return err
	}
	geometry, err := utils.ParseGeoJSON(geojson, crs)
	if err != nil {
		return err
	}
	scenes, err := utils.LoadSceneFile(sceneFile)
	if err != nil {
		return err
	}
	start, err := parseDate(startDate, false)
	if err != nil {
		return err
	}
	end, err := parseDate(endDate, true)
	if err != nil {
		return err
	}

	fetcher, cleanup, err := newFetcher(config)
	if err != nil {
		return err
	}
	defer cleanup()

	metricsLogger, closeMetrics := newMetricsLogger()
	defer closeMetrics()
	mc := metrics.NewMetricsCollector(metricsLogger)
	mc.Start(time.Now())
	defer mc.Log()

	pipeline := processor.NewPipeline(fetcher, config, logger)
	res, err := pipeline.Run(ctx, &processor.Request{
		Product:          product,
		Geometry:         geometry,
		Scenes:           scenes,
		Start:            start,
		End:              end,
		MetricsCollector: mc,
	})
	if err != nil {
		return err
	}
	return writeResult(res, outDir)
}

func writeResult(res *processor.Result, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for _, name := range res.Names {
		path := filepath.Join(dir, strings.ReplaceAll(name, ":", "_")+".raw")
		if err := utils.WriteRawBandFile(path, res.Bands[name], res.Creation); err != nil {
			return err
		}
		logger.Debug("band written", zap.String("band", name), zap.String("path", path))
	}
	creation := res.Creation
	creation.Driver = utils.RawDriver
	if err := utils.WriteCreationArgs(filepath.Join(dir, utils.CreationFile), creation); err != nil {
		return err
	}
	logger.Info("output written", zap.String("dir", dir), zap.Int("bands", len(res.Names)),
		zap.Bool("fully_populated", res.FullyPopulated), zap.Int("unobserved", res.Unobserved))
	return nil
}

func serve(ctx context.Context) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	lis, err := worker.Listen(listenAddr, config.Service.MaxConnections)
	if err != nil {
		return err
	}

	s := worker.NewGRPCServer(&worker.FileFetcher{Root: dataRoot}, logger)
	go func() {
		<-ctx.Done()
		s.GracefulStop()
	}()
	logger.Info("serving raw bands", zap.String("listen", listenAddr), zap.String("data", dataRoot))
	return s.Serve(lis)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
