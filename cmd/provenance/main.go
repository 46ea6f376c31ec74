// Точка входа provenance-agent — фиксация происхождения файлов:
// SHA-256, время и геолокация, закрепление в IPFS и запись в реестр.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bigkaa/provenance/internal/config"
)

var envFiles []string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "provenance",
		Short:         "Фиксация происхождения файлов в IPFS и реестре",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"},
		"файлы переменных окружения (отсутствующие пропускаются)")

	rootCmd.AddCommand(
		serveCmd(),
		hashCmd(),
		anchorCmd(),
	)
	return rootCmd
}

// loadConfig читает .env и загружает конфигурацию.
func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return nil, err
	}
	return config.Load()
}
