package vpnconf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"vpnmon/pkg/target"
)

// Paths are the daemon configuration locations written per attempt. The
// defaults match the stock Debian strongSwan/xl2tpd install.
type Paths struct {
	IPSecConf    string
	IPSecSecrets string
	XL2TPDConf   string
	PPPOptions   string
	ChapSecrets  string
}

func DefaultPaths() Paths {
	return Paths{
		IPSecConf:    "/etc/ipsec.conf",
		IPSecSecrets: "/etc/ipsec.secrets",
		XL2TPDConf:   "/etc/xl2tpd/xl2tpd.conf",
		PPPOptions:   "/etc/ppp/options.l2tpd.client",
		ChapSecrets:  "/etc/ppp/chap-secrets",
	}
}

// Materializer renders and writes the IPSec and L2TP daemon configuration
// for a single server. Rendered text is trusted syntactically; the daemons
// are the ones that validate it.
type Materializer struct {
	paths Paths
}

func NewMaterializer(paths Paths) *Materializer {
	return &Materializer{paths: paths}
}

// RenderIPSec produces the tunnel policy and the matching secrets file
// content: IKEv1 transport mode protecting L2TP (udp/1701), PSK keyed by the
// peer address.
func (m *Materializer) RenderIPSec(server *target.Server) (string, string) {
	var sb strings.Builder
	sb.WriteString("config setup\n")
	sb.WriteString("\tuniqueids=no\n")
	sb.WriteString("\n")
	sb.WriteString("conn ")
	sb.WriteString(server.ConnectionName())
	sb.WriteString("\n")
	sb.WriteString("\tkeyexchange=ikev1\n")
	sb.WriteString("\tauthby=secret\n")
	sb.WriteString("\ttype=transport\n")
	sb.WriteString("\tleft=%defaultroute\n")
	sb.WriteString("\tleftprotoport=17/1701\n")
	sb.WriteString("\tright=")
	sb.WriteString(server.Address)
	sb.WriteString("\n")
	sb.WriteString("\trightprotoport=17/1701\n")
	sb.WriteString("\tike=aes128-sha1-modp2048,aes256-sha1-modp1024,3des-sha1-modp1024!\n")
	sb.WriteString("\tesp=aes128-sha1,aes256-sha1,3des-sha1!\n")
	sb.WriteString("\tkeyingtries=2\n")
	sb.WriteString("\tauto=add\n")

	var secrets strings.Builder
	if server.Credentials != nil {
		secrets.WriteString("%any ")
		secrets.WriteString(server.Address)
		secrets.WriteString(" : PSK \"")
		secrets.WriteString(server.Credentials.PresharedKey)
		secrets.WriteString("\"\n")
	}

	return sb.String(), secrets.String()
}

// RenderL2TP produces the xl2tpd peer definition, the PPP options embedding
// the username and the chap-secrets line carrying the password.
func (m *Materializer) RenderL2TP(server *target.Server) (string, string, string) {
	var sb strings.Builder
	sb.WriteString("[lac ")
	sb.WriteString(server.ConnectionName())
	sb.WriteString("]\n")
	sb.WriteString("lns = ")
	sb.WriteString(server.Address)
	sb.WriteString("\n")
	sb.WriteString("ppp debug = no\n")
	sb.WriteString("pppoptfile = ")
	sb.WriteString(m.paths.PPPOptions)
	sb.WriteString("\n")
	sb.WriteString("length bit = yes\n")
	sb.WriteString("redial = no\n")

	var ppp strings.Builder
	ppp.WriteString("ipcp-accept-local\n")
	ppp.WriteString("ipcp-accept-remote\n")
	ppp.WriteString("refuse-eap\n")
	ppp.WriteString("require-chap\n")
	ppp.WriteString("noccp\n")
	ppp.WriteString("noipdefault\n")
	ppp.WriteString("usepeerdns\n")
	ppp.WriteString("mtu 1280\n")
	ppp.WriteString("mru 1280\n")
	ppp.WriteString("connect-delay 5000\n")
	if server.Credentials != nil {
		ppp.WriteString("name \"")
		ppp.WriteString(server.Credentials.Username)
		ppp.WriteString("\"\n")
	}

	var chap strings.Builder
	if server.Credentials != nil {
		chap.WriteString("\"")
		chap.WriteString(server.Credentials.Username)
		chap.WriteString("\" * \"")
		chap.WriteString(server.Credentials.Password)
		chap.WriteString("\" *\n")
	}

	return sb.String(), ppp.String(), chap.String()
}

// Write materializes every daemon configuration file for the given server.
// Files carrying secrets are written owner-only.
func (m *Materializer) Write(server *target.Server) error {
	ipsecConf, ipsecSecrets := m.RenderIPSec(server)
	xl2tpdConf, pppOptions, chapSecrets := m.RenderL2TP(server)

	files := []struct {
		path    string
		content string
		mode    os.FileMode
	}{
		{m.paths.IPSecConf, ipsecConf, 0o644},
		{m.paths.IPSecSecrets, ipsecSecrets, 0o600},
		{m.paths.XL2TPDConf, xl2tpdConf, 0o644},
		{m.paths.PPPOptions, pppOptions, 0o644},
		{m.paths.ChapSecrets, chapSecrets, 0o600},
	}

	for _, file := range files {
		if err := writeFileAtomic(file.path, []byte(file.content), file.mode); err != nil {
			return fmt.Errorf("failed to write %s: %w", file.path, err)
		}
	}
	return nil
}

// writeFileAtomic writes through a temporary file in the destination
// directory so the daemons never observe a half-written config.
func writeFileAtomic(path string, content []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmpFile.Name()

	cleanup := func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := tmpFile.Write(content); err != nil {
		cleanup()
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := tmpFile.Chmod(mode); err != nil {
		cleanup()
		return fmt.Errorf("failed to chmod temporary file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}
