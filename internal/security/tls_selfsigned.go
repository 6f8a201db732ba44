package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"slices"
	"time"
)

const (
	caValidity     = 10 * 365 * 24 * time.Hour
	serverValidity = 2 * 365 * 24 * time.Hour

	// clockSkew backdates NotBefore so freshly issued certificates are
	// accepted by clients whose clocks run slightly behind.
	clockSkew = time.Hour
)

// certAuthority signs the server certificate. Only its certificate is
// written to disk; the key is dropped once the leaf is issued.
type certAuthority struct {
	cert *x509.Certificate
	key  ed25519.PrivateKey
}

// subjectAltNames are the names a server certificate is valid for.
type subjectAltNames struct {
	dns []string
	ips []net.IP
}

// generateCerts writes a fresh CA certificate plus an Ed25519 server
// certificate and key to paths. The leaf covers localhost, the host
// name, every non-loopback interface address and extraHosts.
func generateCerts(paths *TLSPaths, extraHosts []string) error {
	now := time.Now()

	ca, err := newCertAuthority(now)
	if err != nil {
		return err
	}
	leafDER, leafKey, err := ca.issueServerCert(now, hostSANs(extraHosts))
	if err != nil {
		return err
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(leafKey)
	if err != nil {
		return fmt.Errorf("encoding server key: %w", err)
	}

	files := []struct {
		path, blockType string
		der             []byte
	}{
		{paths.CACertPath, "CERTIFICATE", ca.cert.Raw},
		{paths.CertPath, "CERTIFICATE", leafDER},
		{paths.KeyPath, "PRIVATE KEY", keyDER},
	}
	for _, f := range files {
		if err := writePEMFile(f.path, f.blockType, f.der); err != nil {
			return err
		}
	}
	return nil
}

func newCertAuthority(now time.Time) (*certAuthority, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating CA key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               certSubject("authcore Root CA"),
		NotBefore:             now.Add(-clockSkew),
		NotAfter:              now.Add(caValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, public, private)
	if err != nil {
		return nil, fmt.Errorf("creating CA certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parsing CA certificate: %w", err)
	}
	return &certAuthority{cert: cert, key: private}, nil
}

// issueServerCert returns the DER certificate and private key of a new
// server identity valid for sans.
func (ca *certAuthority) issueServerCert(now time.Time, sans subjectAltNames) ([]byte, ed25519.PrivateKey, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating server key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, nil, err
	}

	notAfter := now.Add(serverValidity)
	if notAfter.After(ca.cert.NotAfter) {
		notAfter = ca.cert.NotAfter
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      certSubject("authcore server"),
		DNSNames:     sans.dns,
		IPAddresses:  sans.ips,
		NotBefore:    now.Add(-clockSkew),
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, public, ca.key)
	if err != nil {
		return nil, nil, fmt.Errorf("creating server certificate: %w", err)
	}
	return der, private, nil
}

func certSubject(commonName string) pkix.Name {
	return pkix.Name{Organization: []string{"authcore"}, CommonName: commonName}
}

// hostSANs collects the names this machine answers to plus extraHosts,
// which may mix DNS names and IP literals.
func hostSANs(extraHosts []string) subjectAltNames {
	sans := subjectAltNames{
		dns: []string{"localhost"},
		ips: []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		sans.addHost(hostname)
	}
	for _, ip := range interfaceIPs() {
		sans.addIP(ip)
	}
	for _, host := range extraHosts {
		sans.addHost(host)
	}
	return sans
}

func (s *subjectAltNames) addHost(host string) {
	if ip := net.ParseIP(host); ip != nil {
		s.addIP(ip)
		return
	}
	if !slices.Contains(s.dns, host) {
		s.dns = append(s.dns, host)
	}
}

func (s *subjectAltNames) addIP(ip net.IP) {
	if !slices.ContainsFunc(s.ips, ip.Equal) {
		s.ips = append(s.ips, ip)
	}
}

// interfaceIPs lists the addresses of every up, non-loopback interface.
// Lookup failures yield fewer names, not an error.
func interfaceIPs() []net.IP {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var ips []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
				ips = append(ips, ipNet.IP)
			}
		}
	}
	return ips
}

func writePEMFile(path, blockType string, der []byte) error {
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func randomSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generating certificate serial: %w", err)
	}
	return serial, nil
}
