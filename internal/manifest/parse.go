// Package manifest implements socketunit.ManifestLoader plus the YAML
// unit-file decoding that builds a socketunit.Config/port/command set
// from it — the teacher parses its own instance/profile configs with
// yaml.v2, and this package generalizes that to the socket unit's wider
// manifest surface with mapstructure doing the struct-shaped decode.
package manifest

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"golang.org/x/sys/unix"
	yaml "gopkg.in/yaml.v2"

	"github.com/DankBSD/InitWare/internal/server/socketunit"
)

type rawListen struct {
	Kind          string `mapstructure:"kind"`
	Address       string `mapstructure:"address"`
	NetlinkFamily string `mapstructure:"netlinkFamily"`
}

type rawExecStep struct {
	Path   string   `mapstructure:"path"`
	Args   []string `mapstructure:"args"`
	Ignore bool     `mapstructure:"ignore"`
}

type rawUnit struct {
	Listen        []rawListen   `mapstructure:"listen"`
	ExecStartPre  []rawExecStep `mapstructure:"execStartPre"`
	ExecStartPost []rawExecStep `mapstructure:"execStartPost"`
	ExecStopPre   []rawExecStep `mapstructure:"execStopPre"`
	ExecStopPost  []rawExecStep `mapstructure:"execStopPost"`
	Service          string   `mapstructure:"service"`
	ServiceExecStart []string `mapstructure:"serviceExecStart"`
}

// UnitFile is the decoded form of one *.socket manifest, ready to be
// applied to a socketunit.SocketUnit through Load.
type UnitFile struct {
	ID              string
	Config          socketunit.Config
	Ports           []*socketunit.Port
	Commands        [5][]*socketunit.ExecStep
	ServiceTemplate string
	ServiceExecStart []string
}

// Parse decodes one manifest's raw YAML bytes into a UnitFile. id is the
// manifest's stable name (typically its file name), used only for error
// messages here — the caller decides the unit's actual ID.
func Parse(id string, data []byte) (*UnitFile, error) {
	var rawGeneric map[interface{}]interface{}
	if err := yaml.Unmarshal(data, &rawGeneric); err != nil {
		return nil, fmt.Errorf("parse %s: %w", id, err)
	}

	generic, _ := cleanupMapValue(rawGeneric).(map[string]interface{})

	var raw rawUnit
	if err := mapstructure.Decode(generic, &raw); err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}

	cfg, err := buildConfig(generic)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}

	ports := make([]*socketunit.Port, 0, len(raw.Listen))

	for _, l := range raw.Listen {
		p, err := buildPort(l)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", id, err)
		}

		ports = append(ports, p)
	}

	var commands [5][]*socketunit.ExecStep
	commands[socketunit.PhaseStartPre] = buildSteps(raw.ExecStartPre)
	commands[socketunit.PhaseStartPost] = buildSteps(raw.ExecStartPost)
	commands[socketunit.PhaseStopPre] = buildSteps(raw.ExecStopPre)
	commands[socketunit.PhaseStopPost] = buildSteps(raw.ExecStopPost)

	return &UnitFile{
		ID:               id,
		Config:           cfg,
		Ports:            ports,
		Commands:         commands,
		ServiceTemplate:  raw.Service,
		ServiceExecStart: raw.ServiceExecStart,
	}, nil
}

// buildConfig decodes generic directly over socketunit.DefaultConfig(),
// so any key the manifest omits keeps its spec-mandated default rather
// than zeroing out.
func buildConfig(generic map[string]interface{}) (socketunit.Config, error) {
	cfg := socketunit.DefaultConfig()

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{Result: &cfg})
	if err != nil {
		return cfg, err
	}

	if err := dec.Decode(generic); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func buildSteps(raw []rawExecStep) []*socketunit.ExecStep {
	if len(raw) == 0 {
		return nil
	}

	steps := make([]*socketunit.ExecStep, len(raw))

	for i, r := range raw {
		steps[i] = &socketunit.ExecStep{
			Path:   r.Path,
			Argv:   append([]string{r.Path}, r.Args...),
			Ignore: r.Ignore,
		}
	}

	for i := 0; i < len(steps)-1; i++ {
		steps[i].Next = steps[i+1]
	}

	return steps
}

// buildPort dispatches on the manifest's kind field, defaulting to
// socket when omitted (the common case).
func buildPort(raw rawListen) (*socketunit.Port, error) {
	switch raw.Kind {
	case "", "socket":
		return buildSocketPort(raw.Address, raw.NetlinkFamily)
	case "fifo":
		return &socketunit.Port{Kind: socketunit.KindFifo, Fd: -1, Address: socketunit.PathAddress{Path: raw.Address}}, nil
	case "special":
		return &socketunit.Port{Kind: socketunit.KindSpecial, Fd: -1, Address: socketunit.PathAddress{Path: raw.Address}}, nil
	case "mqueue":
		return &socketunit.Port{Kind: socketunit.KindMessageQueue, Fd: -1, Address: socketunit.PathAddress{Path: raw.Address}}, nil
	default:
		return nil, fmt.Errorf("unknown listen kind %q", raw.Kind)
	}
}

// buildSocketPort accepts "host:port", "unix:/path/or/@abstract", and
// "netlink:familyname" address forms.
func buildSocketPort(address, netlinkFamily string) (*socketunit.Port, error) {
	switch {
	case strings.HasPrefix(address, "unix:"):
		path := strings.TrimPrefix(address, "unix:")

		return &socketunit.Port{
			Kind: socketunit.KindSocket,
			Fd:   -1,
			Address: socketunit.SocketAddress{
				Family: unix.AF_UNIX,
				Type:   unix.SOCK_STREAM,
				Path:   path,
			},
		}, nil

	case strings.HasPrefix(address, "netlink:"):
		fam := netlinkFamily
		if fam == "" {
			fam = strings.TrimPrefix(address, "netlink:")
		}

		proto, err := socketunit.ResolveNetlinkFamily(fam)
		if err != nil {
			return nil, err
		}

		return &socketunit.Port{
			Kind: socketunit.KindSocket,
			Fd:   -1,
			Address: socketunit.SocketAddress{
				Family:          unix.AF_NETLINK,
				Type:            unix.SOCK_RAW,
				NetlinkFamily:   fam,
				NetlinkProtocol: proto,
			},
		}, nil

	default:
		host, portStr, err := net.SplitHostPort(address)
		if err != nil {
			return nil, fmt.Errorf("invalid listen address %q: %w", address, err)
		}

		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid port in %q: %w", address, err)
		}

		family := unix.AF_INET

		if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
			family = unix.AF_INET6
		}

		return &socketunit.Port{
			Kind: socketunit.KindSocket,
			Fd:   -1,
			Address: socketunit.SocketAddress{
				Family: family,
				Type:   unix.SOCK_STREAM,
				IP:     host,
				Port:   port,
			},
		}, nil
	}
}

// cleanupMapValue recursively turns yaml.v2's map[interface{}]interface{}
// nodes into map[string]interface{} so mapstructure can walk them.
func cleanupMapValue(v interface{}) interface{} {
	switch v := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(v))

		for k, val := range v {
			m[fmt.Sprintf("%v", k)] = cleanupMapValue(val)
		}

		return m
	case []interface{}:
		out := make([]interface{}, len(v))

		for i, e := range v {
			out[i] = cleanupMapValue(e)
		}

		return out
	default:
		return v
	}
}
