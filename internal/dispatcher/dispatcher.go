// Package dispatcher implements the command grammar the registration API's
// execute endpoint and any local operator tooling share: a flat table of
// verb handlers keyed by "<family> <verb>", mirroring the teacher's
// route-table style (internal/api/server.go's mux.Handle calls) but for
// whitespace-tokenized command lines instead of HTTP routes.
package dispatcher

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"vmark.io/vmark-node/internal/forwarding"
	"vmark.io/vmark-node/internal/logging"
	"vmark.io/vmark-node/internal/metrics"
	"vmark.io/vmark-node/internal/rulestore"
	"vmark.io/vmark-node/internal/twamp"
	"vmark.io/vmark-node/internal/validation"
	"vmark.io/vmark-node/internal/xerr"
)

// VerbHandler executes one parsed command line and returns its textual
// output.
type VerbHandler func(d *Dispatcher, tokens []string) (string, error)

// table is populated once, at package init, analogous to the teacher's
// static HTTP route table.
var table map[string]VerbHandler

func init() {
	table = map[string]VerbHandler{
		"xdp-switch create-rule":      (*Dispatcher).handleCreateRule,
		"xdp-switch delete-rule":      (*Dispatcher).handleDeleteRule,
		"xdp-switch enable-rule":      (*Dispatcher).handleEnableRule,
		"xdp-switch disable-rule":     (*Dispatcher).handleDisableRule,
		"xdp-switch show-forwarding":  (*Dispatcher).handleShowForwarding,
		"twamp dscptable":             (*Dispatcher).handleDSCPTable,
		"twamp ipv4 sender":           (*Dispatcher).handleSender,
		"twamp ipv6 sender":           (*Dispatcher).handleSender,
		"twamp ipv4 responder":        (*Dispatcher).handleResponder,
		"twamp ipv6 responder":        (*Dispatcher).handleResponder,
		"twamp ipv4 stop responder":   (*Dispatcher).handleStopResponder,
		"twamp ipv6 stop responder":   (*Dispatcher).handleStopResponder,
		"twamp ipv4 stop sender":      (*Dispatcher).handleStopSender,
		"twamp ipv6 stop sender":      (*Dispatcher).handleStopSender,
		"twamp ipv4 status sender":    (*Dispatcher).handleStatusSender,
		"twamp ipv6 status sender":    (*Dispatcher).handleStatusSender,
	}
}

// Dispatcher routes command lines to the forwarding engine and TWAMP
// registry.
type Dispatcher struct {
	engine   *forwarding.Engine
	registry *twamp.Registry
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// New returns a Dispatcher wired to engine and registry. metrics may be
// nil, in which case verb handlers skip metric updates.
func New(engine *forwarding.Engine, registry *twamp.Registry, logger *logging.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	return &Dispatcher{engine: engine, registry: registry, logger: logger.WithComponent("dispatcher"), metrics: m}
}

// Dispatch tokenizes line and routes it to the matching verb handler. It
// tries the longest known key prefix first so "twamp ipv4 stop responder"
// is matched ahead of "twamp ipv4 stop" or "twamp ipv4".
func (d *Dispatcher) Dispatch(line string) (string, error) {
	tokens := trimmedFields(line)
	if len(tokens) == 0 {
		return "", xerr.New(xerr.KindValidation, "empty command")
	}

	for n := len(tokens); n >= 1; n-- {
		key := strings.Join(tokens[:n], " ")
		if handler, ok := table[key]; ok {
			d.logger.Debug("dispatching command", "verb", key)
			return handler(d, tokens[n:])
		}
	}
	return "", xerr.Errorf(xerr.KindNotFound, "unrecognized command: %s", line)
}

func (d *Dispatcher) ipVersionFromTokens(line string) int {
	if strings.Contains(line, "ipv6") {
		return 6
	}
	return 4
}

func (d *Dispatcher) handleDSCPTable(_ []string) (string, error) {
	return formatDSCPTable(), nil
}

func (d *Dispatcher) handleCreateRule(tokens []string) (string, error) {
	fa := parseFlags(tokens)

	name, err := fa.require("name")
	if err != nil {
		return "", err
	}
	inIf, err := fa.require("in-interface")
	if err != nil {
		return "", err
	}
	outIf, err := fa.require("out-interface")
	if err != nil {
		return "", err
	}
	if err := validation.ValidateInterfaceName(inIf); err != nil {
		return "", err
	}
	if err := validation.ValidateInterfaceName(outIf); err != nil {
		return "", err
	}

	rule := rulestore.Rule{
		Name:         validation.SanitizeString(name),
		InInterface:  inIf,
		OutInterface: outIf,
	}

	if v, ok := fa.get("match-cvlan"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return "", xerr.Errorf(xerr.KindValidation, "match-cvlan must be an integer, got %q", v)
		}
		if err := validation.ValidateVLAN(n); err != nil {
			return "", err
		}
		rule.MatchCVLAN = uint16Ptr(n)
	}
	if v, ok := fa.get("match-svlan"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return "", xerr.Errorf(xerr.KindValidation, "match-svlan must be an integer, got %q", v)
		}
		if err := validation.ValidateVLAN(n); err != nil {
			return "", err
		}
		rule.MatchSVLAN = uint16Ptr(n)
	}
	if v, ok := fa.get("push-svlan"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return "", xerr.Errorf(xerr.KindValidation, "push-svlan must be an integer, got %q", v)
		}
		if err := validation.ValidateVLAN(n); err != nil {
			return "", err
		}
		rule.PushSVLAN = uint16Ptr(n)
	}
	if v, ok := fa.get("push-cvlan"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return "", xerr.Errorf(xerr.KindValidation, "push-cvlan must be an integer, got %q", v)
		}
		if err := validation.ValidateVLAN(n); err != nil {
			return "", err
		}
		rule.PushCVLAN = uint16Ptr(n)
	}
	if v, ok := fa.get("pop-tags"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 2 {
			return "", xerr.Errorf(xerr.KindValidation, "pop-tags must be 0, 1 or 2, got %q", v)
		}
		rule.PopTags = uint8(n)
	}
	if v, ok := fa.get("description"); ok {
		rule.Description = validation.SanitizeString(v)
	}

	ingress, egress, err := d.engine.CreateRule(rule)
	if err != nil {
		return "", err
	}
	d.countRuleChange("create-rule")
	return fmt.Sprintf("created rule %q and its egress pair %q", ingress.Name, egress.Name), nil
}

func (d *Dispatcher) handleDeleteRule(tokens []string) (string, error) {
	fa := parseFlags(tokens)
	name, err := fa.require("name")
	if err != nil {
		return "", err
	}
	if err := d.engine.DeleteRule(name); err != nil {
		return "", err
	}
	d.countRuleChange("delete-rule")
	return fmt.Sprintf("deleted rule %q", name), nil
}

func (d *Dispatcher) handleEnableRule(tokens []string) (string, error) {
	fa := parseFlags(tokens)
	name, err := fa.require("name")
	if err != nil {
		return "", err
	}
	if err := d.engine.EnableRule(name); err != nil {
		return "", err
	}
	d.countRuleChange("enable-rule")
	return fmt.Sprintf("enabled rule %q", name), nil
}

func (d *Dispatcher) handleDisableRule(tokens []string) (string, error) {
	fa := parseFlags(tokens)
	name, err := fa.require("name")
	if err != nil {
		return "", err
	}
	if err := d.engine.DisableRule(name); err != nil {
		return "", err
	}
	d.countRuleChange("disable-rule")
	return fmt.Sprintf("disabled rule %q", name), nil
}

func (d *Dispatcher) handleShowForwarding(tokens []string) (string, error) {
	fa := parseFlags(tokens)
	name, _ := fa.get("name")
	asJSON := fa.flag("json")
	return d.engine.Show(name, asJSON)
}

func (d *Dispatcher) handleSender(tokens []string) (string, error) {
	ipv := d.ipVersionFromTokens(strings.Join(tokens, " "))
	fa := parseFlags(tokens)

	destIP, err := fa.require("destination-ip")
	if err != nil {
		return "", err
	}
	port, err := fa.requireInt("port")
	if err != nil {
		return "", err
	}
	if err := validation.ValidatePortNumber(port); err != nil {
		return "", err
	}
	if ipv == 4 {
		if err := validation.ValidateIPv4(destIP); err != nil {
			return "", err
		}
	} else if err := validation.ValidateIP(destIP); err != nil {
		return "", err
	}

	count, err := fa.getInt("count", 10)
	if err != nil {
		return "", err
	}
	intervalMs, err := fa.getInt("interval", 1000)
	if err != nil {
		return "", err
	}
	padding, err := fa.getInt("padding", 0)
	if err != nil {
		return "", err
	}

	socket, err := socketOptionsFromFlags(fa)
	if err != nil {
		return "", err
	}

	network := "udp4"
	if ipv == 6 {
		network = "udp6"
	}

	key := twamp.SessionKey{IPVersion: ipv, DestIP: destIP, Port: port}
	params := twamp.SenderParams{
		DestAddr: destIP,
		DestPort: port,
		Count:    count,
		Interval: time.Duration(intervalMs) * time.Millisecond,
		Padding:  padding,
		Socket:   socket,
	}

	err = d.registry.StartSender(key, func(onComplete twamp.ResultCallback) (*twamp.SenderTask, error) {
		return twamp.NewSenderTask(network, params, key.String(), onComplete, d.logger)
	})
	if err != nil {
		return "", err
	}
	d.countSessionStart("sender", ipv)
	return fmt.Sprintf("started sender session to %s port %d", destIP, port), nil
}

func (d *Dispatcher) handleResponder(tokens []string) (string, error) {
	ipv := d.ipVersionFromTokens(strings.Join(tokens, " "))
	fa := parseFlags(tokens)

	port, err := fa.requireInt("port")
	if err != nil {
		return "", err
	}
	if err := validation.ValidatePortNumber(port); err != nil {
		return "", err
	}

	network := "udp4"
	addr := "0.0.0.0"
	if ipv == 6 {
		network = "udp6"
		addr = "::"
	}

	timerSeconds, err := fa.getInt("timer", 0)
	if err != nil {
		return "", err
	}

	key := twamp.SessionKey{IPVersion: ipv, Port: port}
	task, err := twamp.NewReflectorTask(network, addr, port, time.Duration(timerSeconds)*time.Second, d.logger)
	if err != nil {
		return "", xerr.Wrap(err, xerr.KindIO, "failed to open responder socket")
	}
	if err := d.registry.StartResponder(key, task); err != nil {
		task.Stop()
		return "", err
	}
	d.countSessionStart("responder", ipv)
	return fmt.Sprintf("started responder on port %d", port), nil
}

func (d *Dispatcher) handleStopResponder(tokens []string) (string, error) {
	ipv := d.ipVersionFromTokens(strings.Join(tokens, " "))
	fa := parseFlags(tokens)
	port, err := fa.requireInt("port")
	if err != nil {
		return "", err
	}
	key := twamp.SessionKey{IPVersion: ipv, Port: port}
	clean, err := d.registry.StopResponder(key)
	if err != nil {
		return "", err
	}
	if !clean {
		return fmt.Sprintf("responder on port %d stopped (timed out waiting for a clean shutdown)", port), nil
	}
	return fmt.Sprintf("stopped responder on port %d", port), nil
}

func (d *Dispatcher) handleStopSender(tokens []string) (string, error) {
	ipv := d.ipVersionFromTokens(strings.Join(tokens, " "))
	fa := parseFlags(tokens)
	destIP, err := fa.require("destination-ip")
	if err != nil {
		return "", err
	}
	port, err := fa.requireInt("port")
	if err != nil {
		return "", err
	}
	key := twamp.SessionKey{IPVersion: ipv, DestIP: destIP, Port: port}
	clean, err := d.registry.StopSender(key)
	if err != nil {
		return "", err
	}
	if !clean {
		return fmt.Sprintf("sender to %s port %d stopped (timed out waiting for a clean shutdown)", destIP, port), nil
	}
	return fmt.Sprintf("stopped sender to %s port %d", destIP, port), nil
}

func (d *Dispatcher) handleStatusSender(tokens []string) (string, error) {
	ipv := d.ipVersionFromTokens(strings.Join(tokens, " "))
	fa := parseFlags(tokens)
	destIP, err := fa.require("destination-ip")
	if err != nil {
		return "", err
	}
	port, err := fa.requireInt("port")
	if err != nil {
		return "", err
	}
	key := twamp.SessionKey{IPVersion: ipv, DestIP: destIP, Port: port}
	state, result := d.registry.SenderStatus(key)
	return formatSenderStatus(state, result), nil
}

func socketOptionsFromFlags(fa flagArgs) (twamp.SocketOptions, error) {
	opts := twamp.SocketOptions{}
	if v, ok := fa.get("ttl"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, xerr.Errorf(xerr.KindValidation, "ttl must be an integer, got %q", v)
		}
		opts.TTL = n
	}
	if v, ok := fa.get("tos"); ok {
		n, err := dscpValue(v)
		if err != nil {
			return opts, xerr.Wrap(err, xerr.KindValidation, "invalid tos/dscp value")
		}
		opts.ToS = n
	}
	if fa.flag("do-not-fragment") {
		opts.DontFragment = true
	}
	return opts, nil
}

func (d *Dispatcher) countRuleChange(verb string) {
	if d.metrics == nil {
		return
	}
	d.metrics.RuleChanges.WithLabelValues(verb).Inc()
}

func (d *Dispatcher) countSessionStart(role string, ipVersion int) {
	if d.metrics == nil {
		return
	}
	d.metrics.TWAMPSessionsStarted.WithLabelValues(role, strconv.Itoa(ipVersion)).Inc()
}
