package persist

import (
	"crypto/x509"
	"fmt"
	"strings"

	"github.com/huebridged/bridge/internal/huerr"
)

// VerifyCertificateMAC checks that cert's serial number embeds mac. A
// bridge certificate is minted once with the bridge MAC in its serial;
// a startup sequence calls this against whatever certificate
// persistence already holds and refuses to start on a mismatch, since
// that means the configured MAC changed out from under an existing
// installation. Certificate generation itself lives outside this
// repository.
func VerifyCertificateMAC(cert *x509.Certificate, mac string) error {
	normalized := strings.ToLower(strings.ReplaceAll(mac, ":", ""))
	if len(normalized) != 12 {
		return huerr.New(huerr.Internal, fmt.Sprintf("mac %q is not a 12 hex digit address", mac))
	}

	serialHex := strings.ToLower(cert.SerialNumber.Text(16))
	if !strings.Contains(serialHex, normalized) {
		return huerr.New(huerr.Unauthorized, "certificate serial does not embed the configured bridge MAC")
	}
	return nil
}
