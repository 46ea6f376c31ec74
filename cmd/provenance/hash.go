package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bigkaa/provenance/internal/service"
)

func hashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash FILE...",
		Short: "Вывести SHA-256 файлов (конфигурация не нужна)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h := service.NewHasher()
			for _, path := range args {
				sum, err := h.DigestFile(cmd.Context(), path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", sum, path)
			}
			return nil
		},
	}
}
