package reinforcement

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"qmaze/models"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// OuterConfig is the envelope of a config file: a kind and its definition.
type OuterConfig struct {
	Kind string      `mapstructure:"kind"`
	Def  interface{} `mapstructure:"def"`
}

// TrainingConfig encodes the learning and simulation parameters outside of code.
// NOTE: viper lower-cases every key it reads, so the yaml tags here are lower-case
// even though the config files are written in camelCase.
type TrainingConfig struct {
	// HyperParams is a key-val list of param names (alpha, gamma, epsilon) and their values.
	HyperParams []HyperParameter `yaml:"hyperparams"`
	Grid        GridConfig       `yaml:"grid"`
	Simulation  SimulationConfig `yaml:"simulation"`
	// TrainingDeadline is a duration describing when to terminate offline training.
	TrainingDeadline map[string]string `yaml:"trainingdeadline"`
	// Seed seeds the engine's random source; zero means seed from the clock.
	Seed int64 `yaml:"seed"`
}

type HyperParameter struct {
	Key string  `yaml:"key"`
	Val float64 `yaml:"val"`
}

// GridConfig describes the maze. Cells are [row, col] pairs.
type GridConfig struct {
	Rows      int     `yaml:"rows"`
	Cols      int     `yaml:"cols"`
	Start     []int   `yaml:"start"`
	Goal      []int   `yaml:"goal"`
	Obstacles [][]int `yaml:"obstacles"`
}

// SimulationConfig holds the parameters of the background simulation loop.
type SimulationConfig struct {
	// Episodes is the number of episodes a loop run trains for.
	Episodes int `yaml:"episodes"`
	// MaxStepsPerEpisode ends an episode that has not reached the goal. Zero or
	// absent takes the default of 200; a negative value means no limit.
	MaxStepsPerEpisode int `yaml:"maxstepsperepisode"`
	// StepInterval rate limits the loop, e.g. "50ms". Zero runs unthrottled.
	StepInterval string `yaml:"stepinterval"`
	// SubscriberBuffer is the per-observer queue length.
	SubscriberBuffer int `yaml:"subscriberbuffer"`
	// PretrainEpisodes are run offline before the server starts.
	PretrainEpisodes int `yaml:"pretrainepisodes"`
}

// DefaultConfig is used when no config file is given.
func DefaultConfig() *TrainingConfig {
	cfg := &TrainingConfig{}
	cfg.setDefaults()
	return cfg
}

func (cfg *TrainingConfig) setDefaults() {
	if cfg.Grid.Rows == 0 && cfg.Grid.Cols == 0 {
		cfg.Grid = GridConfig{
			Rows:      5,
			Cols:      5,
			Start:     []int{0, 0},
			Goal:      []int{4, 4},
			Obstacles: [][]int{{1, 1}, {2, 2}, {3, 3}},
		}
	}
	if cfg.Simulation.Episodes == 0 {
		cfg.Simulation.Episodes = 1000
	}
	if cfg.Simulation.MaxStepsPerEpisode == 0 {
		cfg.Simulation.MaxStepsPerEpisode = 200
	}
	if cfg.Simulation.StepInterval == "" {
		cfg.Simulation.StepInterval = "50ms"
	}
	if cfg.Simulation.SubscriberBuffer == 0 {
		cfg.Simulation.SubscriberBuffer = 64
	}
}

func (cfg *TrainingConfig) GetHyperParamOrDefault(param string, defaultVal float64) float64 {
	for _, kvp := range cfg.HyperParams {
		if kvp.Key == param {
			return kvp.Val
		}
	}
	return defaultVal
}

// Params returns the configured hyper-parameters, defaulting each missing one.
func (cfg *TrainingConfig) Params() HyperParams {
	return HyperParams{
		Alpha:   cfg.GetHyperParamOrDefault("alpha", DefaultHyperParams.Alpha),
		Gamma:   cfg.GetHyperParamOrDefault("gamma", DefaultHyperParams.Gamma),
		Epsilon: cfg.GetHyperParamOrDefault("epsilon", DefaultHyperParams.Epsilon),
	}
}

// BuildGrid converts the grid section into a validated grid.
func (cfg *TrainingConfig) BuildGrid() (*models.Grid, error) {
	start, err := toPosition("start", cfg.Grid.Start)
	if err != nil {
		return nil, err
	}
	goal, err := toPosition("goal", cfg.Grid.Goal)
	if err != nil {
		return nil, err
	}

	obstacles := make([]models.Position, 0, len(cfg.Grid.Obstacles))
	for _, cell := range cfg.Grid.Obstacles {
		obs, err := toPosition("obstacle", cell)
		if err != nil {
			return nil, err
		}
		obstacles = append(obstacles, obs)
	}

	return models.NewGrid(cfg.Grid.Rows, cfg.Grid.Cols, start, goal, obstacles)
}

func toPosition(name string, cell []int) (models.Position, error) {
	if len(cell) != 2 {
		return models.Position{}, fmt.Errorf("%w: %s must be a [row, col] pair, got %v", models.ErrInvalidGrid, name, cell)
	}
	return models.Pos(cell[0], cell[1]), nil
}

// BuildEngine builds the grid, the random source and the engine.
func (cfg *TrainingConfig) BuildEngine() (*Engine, error) {
	grid, err := cfg.BuildGrid()
	if err != nil {
		return nil, err
	}
	return NewEngine(grid, cfg.Params(), cfg.NewRand())
}

// NewRand returns the engine's random source.
func (cfg *TrainingConfig) NewRand() *rand.Rand {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// StepInterval parses the loop's rate limit.
func (cfg *TrainingConfig) StepInterval() (time.Duration, error) {
	interval, err := time.ParseDuration(cfg.Simulation.StepInterval)
	if err != nil {
		return 0, fmt.Errorf("simulation.stepInterval: %w", err)
	}
	return interval, nil
}

// WithTrainingDeadline returns a context extended by the training deadline, if one is specified.
func (cfg *TrainingConfig) WithTrainingDeadline(
	ctx context.Context,
) (context.Context, context.CancelFunc, error) {
	if val, ok := cfg.TrainingDeadline["duration"]; ok {
		duration, err := time.ParseDuration(val)
		if err != nil {
			return nil, nil, fmt.Errorf("trainingDeadline.duration: %w", err)
		}
		innerCtx, cancel := context.WithTimeout(ctx, duration)
		return innerCtx, cancel, nil
	}
	defaultCtx, cancel := context.WithCancel(ctx)
	return defaultCtx, cancel, nil
}

// FromYaml loads a TrainingConfig. The file is read by viper into the outer
// kind/def envelope, and the def is then re-decoded with yaml into the typed config.
func FromYaml(path string) (*TrainingConfig, error) {
	vp := viper.New()
	vp.SetConfigFile(path)
	vp.SetConfigType("yaml")
	vp.AddConfigPath(filepath.Dir(path))
	var err error
	if err = vp.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	outerConfig := &OuterConfig{}
	if err = vp.Unmarshal(outerConfig); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	var def []byte
	if def, err = yaml.Marshal(outerConfig.Def); err != nil {
		return nil, err
	}

	innerConfig := &TrainingConfig{}
	if err = yaml.Unmarshal(def, innerConfig); err != nil {
		return nil, fmt.Errorf("decode def of %s: %w", path, err)
	}
	innerConfig.setDefaults()

	return innerConfig, nil
}
