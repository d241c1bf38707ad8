// Package config resolves the control plane's runtime configuration
// (spec.md §6 "Configuration env"): output root, max CUDA sessions,
// admin token, bind port. Flags override environment, environment
// overrides built-in defaults, following the same flag-registration and
// validation idiom as the teacher's cmd/dev-console/config.go, generalized
// with spf13/viper for env-var binding (grounded on the kylesean-asr_server
// and tr-engine manifests, both of which pair flags with viper).
package config

import (
	"flag"
	"fmt"

	"github.com/spf13/viper"

	"github.com/loquilex/sessiond/internal/state"
)

const (
	envMaxCUDASessions = "LX_MAX_CUDA_SESSIONS"
	envAdminToken      = "LX_ADMIN_TOKEN"
	envBindPort        = "LX_BIND_PORT"
	envWorkerCommand   = "LX_WORKER_COMMAND"

	defaultMaxCUDASessions = 1
	defaultBindPort        = 8080

	// defaultWorkerCommand mirrors the original's
	// `sys.executable -m greenfield.cli.live_en_to_zh --seconds -1`
	// invocation (api/supervisor.py _spawn), substituting the interpreter
	// path for a configurable command.
	defaultWorkerCommand = "python3"
)

var defaultWorkerArgs = []string{"-m", "greenfield.cli.live_en_to_zh", "--seconds", "-1"}

// Config is the resolved control-plane configuration.
type Config struct {
	OutputRoot      string
	MaxCUDASessions int
	AdminToken      string
	BindPort        int
	WorkerCommand   string
	WorkerArgs      []string
}

// Flags holds parsed CLI flag values, mirroring the teacher's
// parsedFlags/serverConfig split: flags are parsed once, then merged with
// viper-bound environment values in Resolve.
type Flags struct {
	OutputRoot      *string
	MaxCUDASessions *int
	AdminToken      *string
	BindPort        *int
	WorkerCommand   *string
}

// RegisterFlags defines the control plane's CLI flags on fs and returns
// their destinations. Call flag.Parse (or fs.Parse) before Resolve.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		OutputRoot:      fs.String("out-root", "", "Session output root (default: OS state dir)/out"),
		MaxCUDASessions: fs.Int("max-cuda-sessions", 0, "Max concurrent CUDA sessions (0 = use env/default)"),
		AdminToken:      fs.String("admin-token", "", "Bearer token required by /admin/* routes"),
		BindPort:        fs.Int("port", 0, "HTTP bind port (0 = use env/default)"),
		WorkerCommand:   fs.String("worker-command", "", "Inference worker interpreter (0/empty = use env/default)"),
	}
}

// Resolve merges CLI flags over environment (bound via viper) over
// built-in defaults, validating the result.
func Resolve(f *Flags) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()
	v.BindEnv("max_cuda_sessions", envMaxCUDASessions)
	v.BindEnv("admin_token", envAdminToken)
	v.BindEnv("bind_port", envBindPort)
	v.BindEnv("worker_command", envWorkerCommand)
	v.SetDefault("max_cuda_sessions", defaultMaxCUDASessions)
	v.SetDefault("bind_port", defaultBindPort)
	v.SetDefault("worker_command", defaultWorkerCommand)

	cfg := Config{
		MaxCUDASessions: v.GetInt("max_cuda_sessions"),
		AdminToken:      v.GetString("admin_token"),
		BindPort:        v.GetInt("bind_port"),
		WorkerCommand:   v.GetString("worker_command"),
		WorkerArgs:      defaultWorkerArgs,
	}

	if f != nil {
		if f.MaxCUDASessions != nil && *f.MaxCUDASessions > 0 {
			cfg.MaxCUDASessions = *f.MaxCUDASessions
		}
		if f.AdminToken != nil && *f.AdminToken != "" {
			cfg.AdminToken = *f.AdminToken
		}
		if f.BindPort != nil && *f.BindPort > 0 {
			cfg.BindPort = *f.BindPort
		}
		if f.WorkerCommand != nil && *f.WorkerCommand != "" {
			cfg.WorkerCommand = *f.WorkerCommand
		}
	}

	outRoot := ""
	if f != nil && f.OutputRoot != nil {
		outRoot = *f.OutputRoot
	}
	if outRoot == "" {
		resolved, err := state.OutRoot()
		if err != nil {
			return Config{}, fmt.Errorf("config: resolve output root: %w", err)
		}
		outRoot = resolved
	}
	cfg.OutputRoot = outRoot

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the resolved configuration for obvious misconfiguration,
// surfaced by callers as exit code 2 ("configuration error") per spec.md §6.
func (c Config) Validate() error {
	if c.MaxCUDASessions <= 0 {
		return fmt.Errorf("config: max_cuda_sessions must be positive, got %d", c.MaxCUDASessions)
	}
	if c.BindPort < 1 || c.BindPort > 65535 {
		return fmt.Errorf("config: bind port %d out of range 1-65535", c.BindPort)
	}
	if c.OutputRoot == "" {
		return fmt.Errorf("config: output root must not be empty")
	}
	if c.WorkerCommand == "" {
		return fmt.Errorf("config: worker command must not be empty")
	}
	return nil
}
