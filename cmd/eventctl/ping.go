package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"eventcore/pkg/health"
)

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that a seed broker answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			checker := health.NewKafkaChecker(brokers)
			if err := checker.Check(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("%s: ok %v\n", checker.Name(), brokers)
			return nil
		},
	}
}
