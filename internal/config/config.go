package config

import (
	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Server struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Provider struct {
		URL            string `mapstructure:"url"`
		TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	} `mapstructure:"provider"`
	Engine struct {
		MaxRounds         int     `mapstructure:"max_rounds"`
		DefaultBudgetUSD  float64 `mapstructure:"default_budget_usd"`
		MaxRequestsPerRun int     `mapstructure:"max_requests_per_run"`
		RunTimeoutSeconds int     `mapstructure:"run_timeout_seconds"`
	} `mapstructure:"engine"`
	Validator struct {
		AllowCycles            bool     `mapstructure:"allow_cycles"`
		Hierarchical           bool     `mapstructure:"hierarchical"`
		MaxDepth               int      `mapstructure:"max_depth"`
		MaxFanOut              int      `mapstructure:"max_fan_out"`
		UniqueToolsPerWorkflow bool     `mapstructure:"unique_tools_per_workflow"`
		UniqueToolsetPerNode   bool     `mapstructure:"unique_toolset_per_node"`
		MaxToolsPerNode        int      `mapstructure:"max_tools_per_node"`
		DefaultToolAllowance   int      `mapstructure:"default_tool_allowance"`
		ActiveModels           []string `mapstructure:"active_models"`
		KnownTools             []string `mapstructure:"known_tools"`
		DisabledTools          []string `mapstructure:"disabled_tools"`
	} `mapstructure:"validator"`
	Evolution struct {
		PopulationSize       int     `mapstructure:"population_size"`
		EliteCount           int     `mapstructure:"elite_count"`
		CrossoverRate        float64 `mapstructure:"crossover_rate"`
		CrossoverPrecedence  string  `mapstructure:"crossover_precedence"`
		InheritNewNodeMemory bool    `mapstructure:"inherit_new_node_memory"`
	} `mapstructure:"evolution"`
	Telemetry struct {
		Enable bool `mapstructure:"enable"`
	} `mapstructure:"telemetry"`
}

// LoadConfig loads the configuration from a file and the environment.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional; defaults plus environment are enough.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("db.sslmode", "disable")
	viper.SetDefault("provider.timeout_seconds", 60)
	viper.SetDefault("engine.max_rounds", 8)
	viper.SetDefault("engine.default_budget_usd", 1.0)
	viper.SetDefault("engine.max_requests_per_run", 200)
	viper.SetDefault("engine.run_timeout_seconds", 600)
	viper.SetDefault("validator.max_depth", 5)
	viper.SetDefault("validator.max_fan_out", 4)
	viper.SetDefault("validator.max_tools_per_node", 6)
	viper.SetDefault("validator.known_tools", []string{"web_search", "calculator"})
	viper.SetDefault("validator.default_tool_allowance", 2)
	viper.SetDefault("evolution.population_size", 8)
	viper.SetDefault("evolution.elite_count", 2)
	viper.SetDefault("evolution.crossover_rate", 0.5)
	viper.SetDefault("evolution.crossover_precedence", "parent1")
	viper.SetDefault("evolution.inherit_new_node_memory", false)
	viper.SetDefault("telemetry.enable", true)
}
