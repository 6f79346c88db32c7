package cli

import (
	"github.com/spf13/cobra"

	"github.com/captaindev404/prd-tools-sub001/internal/otel"
)

func newMetricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Print store metrics in Prometheus text format",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			reg, err := otel.InitMeterProvider(ctx, "prd")
			if err != nil {
				return err
			}
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			if err := otel.RegisterTaskGauge(st.GetStats); err != nil {
				return err
			}
			return otel.WriteText(cmd.OutOrStdout(), reg)
		},
	}
}
