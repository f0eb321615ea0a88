package openvpn

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kamikazebr/ovpn-sync/pkg/models"
	"github.com/kamikazebr/ovpn-sync/pkg/utils"
)

// sacli decorates its output with terminal escape sequences when it thinks
// it has a TTY (docker exec -t, some ssh setups).
var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07]*\x07|\x1b[@-Z\\-_]`)

// Entries in UserPropGet output that are not user accounts.
var reservedProfiles = map[string]bool{
	"__DEFAULT__": true,
}

// StripControl removes ANSI escape sequences and control characters other
// than whitespace.
func StripControl(raw []byte) []byte {
	cleaned := ansiRegex.ReplaceAll(raw, nil)
	return bytes.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\r' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, cleaned)
}

// ParseUserProps parses `sacli UserPropGet` output into username -> properties.
// Group and default profiles are dropped.
func ParseUserProps(raw []byte) (map[string]map[string]string, error) {
	cleaned := bytes.TrimSpace(StripControl(raw))
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("%w: empty output", ErrMalformedOutput)
	}

	var profiles map[string]map[string]interface{}
	if err := json.Unmarshal(cleaned, &profiles); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	accounts := make(map[string]map[string]string, len(profiles))
	for name, props := range profiles {
		if reservedProfiles[name] {
			continue
		}
		if t, ok := props[models.PropType]; ok {
			if s, _ := t.(string); s == "group" || s == "user_default" {
				continue
			}
		}

		flat := make(map[string]string, len(props))
		for k, v := range props {
			flat[k] = stringify(v)
		}
		accounts[name] = flat
	}

	return accounts, nil
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		b, _ := json.Marshal(val)
		return string(b)
	}
}

// ValidateConfirmation checks the payload printed by mutating sacli commands.
// Empty output is accepted; anything else must be JSON.
func ValidateConfirmation(raw []byte) error {
	cleaned := bytes.TrimSpace(StripControl(raw))
	if len(cleaned) == 0 {
		return nil
	}
	if !json.Valid(cleaned) {
		return fmt.Errorf("%w: unexpected confirmation %q", ErrMalformedOutput, truncate(string(cleaned), 120))
	}
	return nil
}

type vpnInstanceStatus struct {
	ClientList [][]string          `json:"client_list"`
	Header     map[string][]string `json:"header"`
}

// Column positions of the OpenVPN status v3 CLIENT_LIST row, used when the
// instance does not report a header.
var defaultClientColumns = map[string]int{
	"Common Name":              0,
	"Real Address":             1,
	"Virtual Address":          2,
	"Connected Since (time_t)": 7,
	"Username":                 8,
}

// ParseVPNStatus parses `sacli VPNStatus` output into live connections across
// all daemon instances (openvpn_0, openvpn_1, ...).
func ParseVPNStatus(raw []byte) ([]models.LiveConnection, error) {
	cleaned := bytes.TrimSpace(StripControl(raw))
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("%w: empty output", ErrMalformedOutput)
	}

	var instances map[string]json.RawMessage
	if err := json.Unmarshal(cleaned, &instances); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	names := make([]string, 0, len(instances))
	for name := range instances {
		if strings.HasPrefix(name, "openvpn_") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	conns := []models.LiveConnection{}
	for _, name := range names {
		var status vpnInstanceStatus
		if err := json.Unmarshal(instances[name], &status); err != nil {
			return nil, fmt.Errorf("%w: instance %s: %v", ErrMalformedOutput, name, err)
		}

		cols := clientColumns(status.Header)
		for _, row := range status.ClientList {
			conn, ok := connectionFromRow(row, cols)
			if ok {
				conns = append(conns, conn)
			}
		}
	}

	return conns, nil
}

func clientColumns(header map[string][]string) map[string]int {
	names, ok := header["CLIENT_LIST"]
	if !ok || len(names) == 0 {
		return defaultClientColumns
	}

	cols := make(map[string]int, len(names))
	for i, n := range names {
		cols[n] = i
	}
	for k, v := range defaultClientColumns {
		if _, ok := cols[k]; !ok {
			cols[k] = v
		}
	}
	return cols
}

func connectionFromRow(row []string, cols map[string]int) (models.LiveConnection, bool) {
	get := func(col string) string {
		i, ok := cols[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	tunnelIP := get("Virtual Address")
	if !utils.IsValidIP(tunnelIP) {
		return models.LiveConnection{}, false
	}

	username := get("Username")
	if username == "" || username == "UNDEF" {
		username = get("Common Name")
	}
	if username == "" || username == "UNDEF" {
		return models.LiveConnection{}, false
	}

	conn := models.LiveConnection{
		Username: username,
		TunnelIP: tunnelIP,
		RealIP:   hostOnly(get("Real Address")),
	}

	if ts, err := strconv.ParseInt(get("Connected Since (time_t)"), 10, 64); err == nil && ts > 0 {
		since := time.Unix(ts, 0).UTC()
		conn.ConnectedSince = &since
	}

	return conn, true
}

// hostOnly drops the port from "203.0.113.5:51234" and "[2001:db8::1]:51234".
func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
