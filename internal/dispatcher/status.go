package dispatcher

import (
	"fmt"
	"strings"

	"vmark.io/vmark-node/internal/twamp"
)

func formatSenderStatus(state twamp.StatusState, result twamp.Result) string {
	switch state {
	case twamp.StatusRunning:
		return "running"
	case twamp.StatusUnknown:
		return "unknown session"
	}

	var b strings.Builder
	b.WriteString("completed\n")
	fmt.Fprintf(&b, "packets_tx=%d packets_rx=%d total_loss_percent=%.2f one_way_loss=%s\n",
		result.PacketsTx, result.PacketsRx, result.LossPct, result.OneWayLoss)
	fmt.Fprintf(&b, "outbound:   min=%.3f max=%.3f avg=%.3f jitter=%.3f (us)\n",
		result.Outbound.Min, result.Outbound.Max, result.Outbound.Average, result.Outbound.Jitter)
	fmt.Fprintf(&b, "inbound:    min=%.3f max=%.3f avg=%.3f jitter=%.3f (us)\n",
		result.Inbound.Min, result.Inbound.Max, result.Inbound.Average, result.Inbound.Jitter)
	fmt.Fprintf(&b, "round_trip: min=%.3f max=%.3f avg=%.3f jitter=%.3f (us)\n",
		result.RoundTrip.Min, result.RoundTrip.Max, result.RoundTrip.Average, result.RoundTrip.Jitter)
	return b.String()
}
