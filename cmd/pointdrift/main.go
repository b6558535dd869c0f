package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"gonum.org/v1/gonum/mat"

	"pointdrift/pkg/config"
	"pointdrift/pkg/pointio"
)

func main() {
	// Parse command line arguments
	fixedPath := flag.String("fixed", "", "File containing the fixed point set")
	movingPath := flag.String("moving", "", "File containing the moving point set")
	outputPath := flag.String("output", "", "File to write the moved point set to (optional)")
	configPath := flag.String("config", "pointdrift.yaml", "YAML configuration file")
	maxIterations := flag.Int("max-iterations", 0, "Override the maximum number of iterations")
	outlierWeight := flag.Float64("outlier-weight", -1, "Override the outlier weight (0 to 1)")
	normalizeFlag := flag.String("normalize", "", "Override the normalization strategy: same-scale, independent, or none")
	scale := flag.Bool("scale", false, "Solve for a uniform scale as well")
	allowReflections := flag.Bool("allow-reflections", false, "Allow the solved rotation to be a reflection")
	cores := flag.Int("cores", 0, "Number of CPU cores for the correspondence computation (default: all available)")
	verbose := flag.Bool("verbose", false, "Print per-iteration progress")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration to the config path and exit")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write default config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	// Validate inputs
	if *fixedPath == "" || *movingPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	// Load configuration, then apply command line overrides
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *maxIterations > 0 {
		cfg.Registration.MaxIterations = *maxIterations
	}
	if *outlierWeight >= 0 {
		cfg.Registration.OutlierWeight = *outlierWeight
	}
	if *normalizeFlag != "" {
		cfg.Registration.Normalize = *normalizeFlag
	}
	if *scale {
		cfg.Rigid.Scale = true
	}
	if *allowReflections {
		cfg.Rigid.AllowReflections = true
	}
	if *cores > 0 {
		cfg.Processing.NumCores = *cores
	}
	if *verbose {
		cfg.Output.Verbose = true
	}

	// Read the point sets
	fixed, err := pointio.ReadMatrix(*fixedPath)
	if err != nil {
		log.Fatalf("Failed to read fixed points: %v", err)
	}
	moving, err := pointio.ReadMatrix(*movingPath)
	if err != nil {
		log.Fatalf("Failed to read moving points: %v", err)
	}
	fixedRows, dims := fixed.Dims()
	movingRows, _ := moving.Dims()
	fmt.Printf("Registering %d moving points to %d fixed points (%dD)\n",
		movingRows, fixedRows, dims)

	// Build the runner and the rigid method
	run, err := cfg.Runner()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if cfg.Output.Verbose {
		run.Progress = func(iteration int, errorChange, sigma2 float64) {
			fmt.Printf("iteration=%d errorChange=%g sigma2=%g\n",
				iteration, errorChange, sigma2)
		}
	}

	// Register
	result, err := cfg.RigidMethod().Register(run, fixed, moving)
	if err != nil {
		log.Fatalf("Registration failed: %v", err)
	}

	// Report the outcome
	if result.Converged {
		fmt.Printf("Converged after %d iterations\n", result.Iterations)
	} else {
		fmt.Printf("Did not converge within %d iterations\n", result.Iterations)
	}
	fmt.Printf("Rotation:\n%v\n",
		mat.Formatted(result.Transform.Rotation, mat.Prefix(""), mat.Squeeze()))
	if result.Transform.Scale != nil {
		fmt.Printf("Scale: %g\n", *result.Transform.Scale)
	}
	fmt.Printf("Translation: %v\n",
		mat.Formatted(result.Transform.Translation.T(), mat.Squeeze()))

	// Write the moved points if requested
	if *outputPath != "" {
		if err := pointio.WriteMatrix(*outputPath, result.Moved); err != nil {
			log.Fatalf("Failed to write moved points: %v", err)
		}
		fmt.Printf("Moved points written to %s\n", *outputPath)
	}
}
