package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/SkastVnT/AI-Assistant-sub002/config"
	"github.com/SkastVnT/AI-Assistant-sub002/internal/database"
	"github.com/SkastVnT/AI-Assistant-sub002/llm"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/store"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🗄️ 模型绑定表管理
// =============================================================================

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	subcommand, subargs := args[0], args[1:]
	var err error
	switch subcommand {
	case "up":
		err = withStore(subargs, "migrate up", func(ctx context.Context, st *store.Store, _ *flag.FlagSet, _ string) error {
			if err := st.AutoMigrate(ctx); err != nil {
				return err
			}
			fmt.Println("model_bindings table is up to date")
			return nil
		})
	case "status":
		err = withStore(subargs, "migrate status", migrateStatus)
	case "import":
		err = withStore(subargs, "migrate import", migrateImport)
	case "enable", "disable":
		enabled := subcommand == "enable"
		err = withStore(subargs, "migrate "+subcommand, func(ctx context.Context, st *store.Store, fs *flag.FlagSet, _ string) error {
			name := fs.Arg(0)
			if name == "" {
				return errors.New("model name is required")
			}
			if err := st.SetEnabled(ctx, name, enabled); err != nil {
				return err
			}
			fmt.Printf("%s: enabled=%t\n", name, enabled)
			return nil
		})
	case "delete":
		err = withStore(subargs, "migrate delete", func(ctx context.Context, st *store.Store, fs *flag.FlagSet, _ string) error {
			name := fs.Arg(0)
			if name == "" {
				return errors.New("model name is required")
			}
			if err := st.Delete(ctx, name); err != nil {
				return err
			}
			fmt.Printf("%s deleted\n", name)
			return nil
		})
	case "help", "-h", "--help":
		printMigrateUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", subcommand)
		printMigrateUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s failed: %v\n", subcommand, err)
		os.Exit(1)
	}
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage() {
	fmt.Println(`Model binding table commands

Usage:
  chatcore migrate <subcommand> [options] [name]

Subcommands:
  up              Create or update the model_bindings table
  status          List stored bindings
  import          Upsert every binding from the config file into the table
  enable <name>   Enable a stored binding
  disable <name>  Disable a stored binding without deleting it
  delete <name>   Delete a stored binding

Options:
  --config <path>   Path to configuration file (YAML)

Stored bindings override file bindings with the same name at startup.
Credentials written as ${ENV} references are stored unexpanded.`)
}

type storeFunc func(ctx context.Context, st *store.Store, fs *flag.FlagSet, configPath string) error

// withStore 解析参数、打开数据库并执行 fn
func withStore(args []string, name string, fn storeFunc) error {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := mustLoadConfig(*configPath)
	if cfg.Database.Driver == "" {
		return errors.New("database.driver is not configured")
	}

	pool, err := database.Open(cfg.Database, zap.NewNop())
	if err != nil {
		return err
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	st := store.New(pool, zap.NewNop())
	if err := st.AutoMigrate(ctx); err != nil {
		return err
	}
	return fn(ctx, st, fs, *configPath)
}

func migrateStatus(ctx context.Context, st *store.Store, _ *flag.FlagSet, _ string) error {
	bindings, err := st.List(ctx)
	if err != nil {
		return err
	}
	if len(bindings) == 0 {
		fmt.Println("no enabled bindings stored")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tFAMILY\tMODEL\tSTREAMING\tFALLBACK")
	for _, b := range bindings {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", b.Name, b.Family, b.Model, b.SupportsStreaming, b.Fallback)
	}
	return w.Flush()
}

// migrateImport 从原始 YAML 读取绑定，${ENV} 引用不展开直接入库
func migrateImport(ctx context.Context, st *store.Store, _ *flag.FlagSet, configPath string) error {
	if configPath == "" {
		return errors.New("--config is required for import")
	}
	models, err := rawBindings(configPath)
	if err != nil {
		return err
	}
	for _, m := range models {
		if err := st.Upsert(ctx, m); err != nil {
			return err
		}
		fmt.Printf("imported %s (%s)\n", m.Name, m.Family)
	}
	return nil
}

// rawBindings 解析配置文件中的 llm.models，不做环境变量展开
func rawBindings(path string) ([]llm.ModelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var raw struct {
		LLM config.LLMConfig `yaml:"llm"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return raw.LLM.Models, nil
}
