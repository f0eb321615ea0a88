package openvpn

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Captured from `docker exec -t openvpn-as sacli UserPropGet`
const userPropGetSample = "\x1b[?1034h{\r\n" +
	"  \"__DEFAULT__\": {\r\n" +
	"    \"prop_autogenerate\": \"true\",\r\n" +
	"    \"type\": \"user_default\"\r\n" +
	"  },\r\n" +
	"  \"admins\": {\r\n" +
	"    \"type\": \"group\"\r\n" +
	"  },\r\n" +
	"  \"alice\": {\r\n" +
	"    \"email\": \"alice@example.com\",\r\n" +
	"    \"display_name\": \"Alice\",\r\n" +
	"    \"prop_superuser\": \"true\",\r\n" +
	"    \"pvt_password_digest\": \"$P$abc\",\r\n" +
	"    \"type\": \"user_connect\"\r\n" +
	"  },\r\n" +
	"  \"bob\": {\r\n" +
	"    \"prop_superuser\": false,\r\n" +
	"    \"conn_group\": 3,\r\n" +
	"    \"type\": \"user_connect\"\r\n" +
	"  }\r\n" +
	"}\x1b[0m\r\n"

// Captured from `sacli VPNStatus` with one client on each daemon.
const vpnStatusSample = `{
  "openvpn_0": {
    "client_list": [
      ["alice", "203.0.113.5:51234", "172.27.224.2", "", "31337", "4242", "Tue Oct 14 10:00:00 2025", "1760436000", "alice", "3", "0", "AES-256-GCM"]
    ],
    "header": {
      "CLIENT_LIST": ["Common Name", "Real Address", "Virtual Address", "Virtual IPv6 Address", "Bytes Received", "Bytes Sent", "Connected Since", "Connected Since (time_t)", "Username", "Client ID", "Peer ID", "Data Channel Cipher"]
    },
    "time": ["Tue Oct 14 10:05:00 2025", "1760436300"],
    "title": "OpenVPN 2.6"
  },
  "openvpn_1": {
    "client_list": [
      ["dave-laptop", "[2001:db8::7]:40000", "172.27.228.2", "", "1", "2", "Tue Oct 14 10:02:00 2025", "1760436120", "dave", "9", "1", "AES-256-GCM"],
      ["UNDEF", "198.51.100.1:1194", "", "", "0", "0", "", "0", "UNDEF", "10", "2", ""]
    ]
  }
}`

func TestStripControl(t *testing.T) {
	got := StripControl([]byte("\x1b[1;32m{\"ok\":true}\x1b[0m\x07"))
	assert.Equal(t, `{"ok":true}`, string(got))
}

func TestParseUserProps_Sample(t *testing.T) {
	accounts, err := ParseUserProps([]byte(userPropGetSample))
	require.NoError(t, err)

	assert.Len(t, accounts, 2)
	assert.NotContains(t, accounts, "__DEFAULT__")
	assert.NotContains(t, accounts, "admins")

	assert.Equal(t, "alice@example.com", accounts["alice"]["email"])
	assert.Equal(t, "true", accounts["alice"]["prop_superuser"])
	assert.Equal(t, "false", accounts["bob"]["prop_superuser"])
	assert.Equal(t, "3", accounts["bob"]["conn_group"])
}

func TestParseUserProps_Empty(t *testing.T) {
	accounts, err := ParseUserProps([]byte("{}"))
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestParseUserProps_Malformed(t *testing.T) {
	inputs := []string{
		"",
		"\x1b[0m",
		"Traceback (most recent call last):\n  File \"sacli\"",
		`{"alice": {"type": "user_connect"}} trailing garbage`,
		`["not", "an", "object"]`,
	}

	for _, in := range inputs {
		_, err := ParseUserProps([]byte(in))
		require.Error(t, err, "input %q", in)
		assert.True(t, errors.Is(err, ErrMalformedOutput), "input %q", in)
	}
}

func TestParseVPNStatus_Sample(t *testing.T) {
	conns, err := ParseVPNStatus([]byte(vpnStatusSample))
	require.NoError(t, err)
	require.Len(t, conns, 2)

	assert.Equal(t, "alice", conns[0].Username)
	assert.Equal(t, "172.27.224.2", conns[0].TunnelIP)
	assert.Equal(t, "203.0.113.5", conns[0].RealIP)
	require.NotNil(t, conns[0].ConnectedSince)
	assert.Equal(t, int64(1760436000), conns[0].ConnectedSince.Unix())

	// No header on openvpn_1: positional columns, username over common name
	assert.Equal(t, "dave", conns[1].Username)
	assert.Equal(t, "172.27.228.2", conns[1].TunnelIP)
	assert.Equal(t, "2001:db8::7", conns[1].RealIP)
}

func TestParseVPNStatus_NoClients(t *testing.T) {
	conns, err := ParseVPNStatus([]byte(`{"openvpn_0": {"client_list": [], "header": {}}}`))
	require.NoError(t, err)
	assert.Empty(t, conns)
	assert.NotNil(t, conns)
}

func TestParseVPNStatus_Malformed(t *testing.T) {
	_, err := ParseVPNStatus([]byte("ERROR: service not running"))
	assert.True(t, errors.Is(err, ErrMalformedOutput))

	_, err = ParseVPNStatus([]byte(`{"openvpn_0": "nope"}`))
	assert.True(t, errors.Is(err, ErrMalformedOutput))
}

func TestValidateConfirmation(t *testing.T) {
	assert.NoError(t, ValidateConfirmation(nil))
	assert.NoError(t, ValidateConfirmation([]byte("\x1b[0m\r\n")))
	assert.NoError(t, ValidateConfirmation([]byte(`{"status": "ok"}`)))
	assert.Error(t, ValidateConfirmation([]byte("Segmentation fault")))
}
