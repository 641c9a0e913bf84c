package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/preecet/BlueSSLService/pkg/config"
	"github.com/preecet/BlueSSLService/pkg/ssl"
)

const version = "1.0.0"

func main() {
	var (
		generateCmd = flag.NewFlagSet("generate", flag.ExitOnError)
		bundleCmd   = flag.NewFlagSet("bundle", flag.ExitOnError)
		inspectCmd  = flag.NewFlagSet("inspect", flag.ExitOnError)
		validateCmd = flag.NewFlagSet("validate", flag.ExitOnError)
		versionCmd  = flag.NewFlagSet("version", flag.ExitOnError)
	)

	// Generate command flags
	var (
		genCommonName = generateCmd.String("cn", "localhost", "Common name for the certificate")
		genOrg        = generateCmd.String("org", "Test Organization", "Organization name")
		genDNSNames   = generateCmd.String("dns", "", "Comma-separated list of DNS names (SANs)")
		genIPs        = generateCmd.String("ips", "", "Comma-separated list of IP addresses")
		genValidFor   = generateCmd.Duration("valid-for", 365*24*time.Hour, "Certificate validity duration")
		genKeyType    = generateCmd.String("key-type", "ecdsa", "Key type: ecdsa, rsa")
		genKeySize    = generateCmd.Int("key-size", 2048, "RSA key size in bits (rsa only)")
		genIsCA       = generateCmd.Bool("ca", false, "Generate a CA certificate")
		genCertFile   = generateCmd.String("cert", "cert.pem", "Output certificate file")
		genKeyFile    = generateCmd.String("key", "key.pem", "Output private key file")
		genOutputDir  = generateCmd.String("output-dir", ".", "Output directory for certificates")
	)

	// Bundle command flags
	var (
		bundleCertFile = bundleCmd.String("cert", "", "Leaf certificate PEM file")
		bundleKeyFile  = bundleCmd.String("key", "", "Private key PEM file")
		bundleCAFile   = bundleCmd.String("chain", "", "Optional PEM file with chain certificates")
		bundleOutFile  = bundleCmd.String("out", "identity.p12", "Output PKCS#12 file")
		bundlePassword = bundleCmd.String("password", "", "Password protecting the archive (required)")
	)

	// Inspect command flags
	var (
		inspectCertFile = inspectCmd.String("cert", "", "Certificate or PKCS#12 file to inspect")
		inspectPassword = inspectCmd.String("password", "", "Password for PKCS#12 files")
		inspectFormat   = inspectCmd.String("format", "text", "Output format: text, json")
	)

	// Validate command flags
	var (
		validateCertFile  = validateCmd.String("cert", "", "Certificate file to validate")
		validateKeyFile   = validateCmd.String("key", "", "Private key file (optional)")
		validateChainFile = validateCmd.String("chain-file", "", "Chain file (PEM or PKCS#12) to validate")
		validatePassword  = validateCmd.String("password", "", "Password for PKCS#12 chain files")
	)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "generate":
		generateCmd.Parse(os.Args[2:])
		handleGenerate(generateOptions{
			commonName:   *genCommonName,
			organization: *genOrg,
			dnsNames:     splitList(*genDNSNames),
			ipAddresses:  parseIPAddresses(*genIPs),
			validFor:     *genValidFor,
			keyType:      *genKeyType,
			keySize:      *genKeySize,
			isCA:         *genIsCA,
			certFile:     *genCertFile,
			keyFile:      *genKeyFile,
			outputDir:    *genOutputDir,
		})

	case "bundle":
		bundleCmd.Parse(os.Args[2:])
		if *bundleCertFile == "" || *bundleKeyFile == "" {
			fmt.Fprintf(os.Stderr, "Error: -cert and -key flags are required\n")
			bundleCmd.Usage()
			os.Exit(1)
		}
		if *bundlePassword == "" {
			fmt.Fprintf(os.Stderr, "Error: -password flag is required\n")
			bundleCmd.Usage()
			os.Exit(1)
		}
		handleBundle(*bundleCertFile, *bundleKeyFile, *bundleCAFile, *bundleOutFile, *bundlePassword)

	case "inspect":
		inspectCmd.Parse(os.Args[2:])
		if *inspectCertFile == "" {
			fmt.Fprintf(os.Stderr, "Error: -cert flag is required\n")
			inspectCmd.Usage()
			os.Exit(1)
		}
		handleInspect(*inspectCertFile, *inspectPassword, *inspectFormat)

	case "validate":
		validateCmd.Parse(os.Args[2:])
		handleValidate(*validateCertFile, *validateKeyFile, *validateChainFile, *validatePassword)

	case "version":
		versionCmd.Parse(os.Args[2:])
		fmt.Printf("sslcert version %s\n", version)

	default:
		printUsage()
		os.Exit(1)
	}
}

type generateOptions struct {
	commonName   string
	organization string
	dnsNames     []string
	ipAddresses  []net.IP
	validFor     time.Duration
	keyType      string
	keySize      int
	isCA         bool
	certFile     string
	keyFile      string
	outputDir    string
}

func printUsage() {
	fmt.Printf(`sslcert - Certificate generation and inspection utility for the SSL service

Usage:
  sslcert <command> [options]

Commands:
  generate    Generate self-signed certificates for testing
  bundle      Bundle a certificate, key and chain into a PKCS#12 archive
  inspect     Inspect certificate or PKCS#12 files
  validate    Validate credential files the way the service loads them
  version     Show version information

Examples:
  # Generate a basic self-signed certificate
  sslcert generate -cn localhost -dns localhost,example.com

  # Generate a CA certificate
  sslcert generate -ca -cn "Test CA" -cert ca.pem -key ca-key.pem

  # Bundle an identity into PKCS#12
  sslcert bundle -cert server.pem -key server-key.pem -chain ca.pem -out server.p12 -password secret

  # Inspect a certificate file
  sslcert inspect -cert server.pem

  # Validate a chain file as the service would load it
  sslcert validate -chain-file server.p12 -password secret

Use "sslcert <command> -h" for more information about a command.
`)
}

func handleGenerate(opts generateOptions) {
	if err := os.MkdirAll(opts.outputDir, 0o755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	certPEM, keyPEM, err := generateSelfSigned(opts)
	if err != nil {
		log.Fatalf("Failed to generate certificate: %v", err)
	}

	certPath := filepath.Join(opts.outputDir, opts.certFile)
	keyPath := filepath.Join(opts.outputDir, opts.keyFile)

	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		log.Fatalf("Failed to write certificate: %v", err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		log.Fatalf("Failed to write private key: %v", err)
	}

	fmt.Printf("Certificate generated successfully:\n")
	fmt.Printf("  Certificate: %s\n", certPath)
	fmt.Printf("  Private Key: %s\n", keyPath)
	fmt.Printf("  Common Name: %s\n", opts.commonName)
	fmt.Printf("  Valid For: %v\n", opts.validFor)
	if len(opts.dnsNames) > 0 {
		fmt.Printf("  DNS Names: %s\n", strings.Join(opts.dnsNames, ", "))
	}
}

func generateSelfSigned(opts generateOptions) (certPEM, keyPEM []byte, err error) {
	var publicKey any
	var privateKey any

	switch opts.keyType {
	case "ecdsa":
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, nil, err
		}
		publicKey, privateKey = &key.PublicKey, key
	case "rsa":
		key, err := rsa.GenerateKey(rand.Reader, opts.keySize)
		if err != nil {
			return nil, nil, err
		}
		publicKey, privateKey = &key.PublicKey, key
	default:
		return nil, nil, fmt.Errorf("unknown key type %q (supported: ecdsa, rsa)", opts.keyType)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   opts.commonName,
			Organization: []string{opts.organization},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(opts.validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:              opts.dnsNames,
		IPAddresses:           opts.ipAddresses,
		BasicConstraintsValid: true,
		IsCA:                  opts.isCA,
	}
	if opts.isCA {
		template.KeyUsage |= x509.KeyUsageCertSign
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, publicKey, privateKey)
	if err != nil {
		return nil, nil, err
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, nil, err
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}

func handleBundle(certFile, keyFile, chainFile, outFile, password string) {
	cfg := &config.Configuration{
		CertificateFilePath: certFile,
		KeyFilePath:         keyFile,
	}
	identity, err := ssl.LoadIdentity(cfg)
	if err != nil {
		log.Fatalf("Failed to load certificate/key pair: %v", err)
	}

	var chain []*x509.Certificate
	if chainFile != "" {
		chain, err = readCertificates(chainFile)
		if err != nil {
			log.Fatalf("Failed to read chain file: %v", err)
		}
	}

	data, err := pkcs12.Modern.Encode(identity.Certificate.PrivateKey, identity.Leaf, chain, password)
	if err != nil {
		log.Fatalf("Failed to encode PKCS#12 archive: %v", err)
	}
	if err := os.WriteFile(outFile, data, 0o600); err != nil {
		log.Fatalf("Failed to write archive: %v", err)
	}

	fmt.Printf("PKCS#12 archive written:\n")
	fmt.Printf("  File: %s\n", outFile)
	fmt.Printf("  Subject: %s\n", identity.Leaf.Subject)
	fmt.Printf("  Chain certificates: %d\n", len(chain))
}

type certReport struct {
	File        string    `json:"file"`
	Subject     string    `json:"subject"`
	Issuer      string    `json:"issuer"`
	NotBefore   time.Time `json:"not_before"`
	NotAfter    time.Time `json:"not_after"`
	Expired     bool      `json:"expired"`
	NotYetValid bool      `json:"not_yet_valid"`
	Valid       bool      `json:"valid"`
	DNSNames    []string  `json:"dns_names"`
	IPAddresses []string  `json:"ip_addresses"`
	IsCA        bool      `json:"is_ca"`
}

func handleInspect(certFile, password, format string) {
	certs, err := inspectCertificates(certFile, password)
	if err != nil {
		log.Fatalf("Failed to inspect %s: %v", certFile, err)
	}

	for i, cert := range certs {
		report := buildReport(certFile, cert)
		switch format {
		case "text":
			if len(certs) > 1 {
				fmt.Printf("Certificate %d of %d:\n", i+1, len(certs))
			}
			printReportText(report)
		case "json":
			encoded, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				log.Fatalf("Failed to encode report: %v", err)
			}
			fmt.Println(string(encoded))
		default:
			log.Fatalf("Unknown format: %s (supported: text, json)", format)
		}
	}
}

// inspectCertificates reads every certificate in a PEM file or a PKCS#12
// archive.
func inspectCertificates(path, password string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if strings.Contains(string(data), "-----BEGIN") {
		return parsePEMCertificates(data)
	}

	if password == "" {
		return nil, fmt.Errorf("PKCS#12 archive requires -password")
	}
	_, leaf, chain, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, err
	}
	return append([]*x509.Certificate{leaf}, chain...), nil
}

func parsePEMCertificates(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("no certificates found")
	}
	return certs, nil
}

func buildReport(path string, cert *x509.Certificate) certReport {
	now := time.Now()
	ips := make([]string, 0, len(cert.IPAddresses))
	for _, ip := range cert.IPAddresses {
		ips = append(ips, ip.String())
	}
	return certReport{
		File:        path,
		Subject:     cert.Subject.String(),
		Issuer:      cert.Issuer.String(),
		NotBefore:   cert.NotBefore,
		NotAfter:    cert.NotAfter,
		Expired:     now.After(cert.NotAfter),
		NotYetValid: now.Before(cert.NotBefore),
		Valid:       !now.After(cert.NotAfter) && !now.Before(cert.NotBefore),
		DNSNames:    cert.DNSNames,
		IPAddresses: ips,
		IsCA:        cert.IsCA,
	}
}

func printReportText(report certReport) {
	fmt.Printf("Certificate Information:\n")
	fmt.Printf("  File: %s\n", report.File)
	fmt.Printf("  Subject: %s\n", report.Subject)
	fmt.Printf("  Issuer: %s\n", report.Issuer)
	fmt.Printf("  Valid From: %s\n", report.NotBefore.Format(time.RFC3339))
	fmt.Printf("  Valid Until: %s\n", report.NotAfter.Format(time.RFC3339))

	now := time.Now()
	switch {
	case report.Expired:
		fmt.Printf("  Status: EXPIRED (%v ago)\n", now.Sub(report.NotAfter).Truncate(time.Hour))
	case report.NotYetValid:
		fmt.Printf("  Status: NOT YET VALID (valid in %v)\n", report.NotBefore.Sub(now).Truncate(time.Hour))
	default:
		remaining := report.NotAfter.Sub(now)
		if remaining < 30*24*time.Hour {
			fmt.Printf("  Status: EXPIRES SOON (in %v)\n", remaining.Truncate(time.Hour))
		} else {
			fmt.Printf("  Status: VALID (expires in %v)\n", remaining.Truncate(time.Hour))
		}
	}

	if len(report.DNSNames) > 0 {
		fmt.Printf("  DNS Names: %s\n", strings.Join(report.DNSNames, ", "))
	}
	if len(report.IPAddresses) > 0 {
		fmt.Printf("  IP Addresses: %s\n", strings.Join(report.IPAddresses, ", "))
	}
	if report.IsCA {
		fmt.Printf("  CA: true\n")
	}
}

// handleValidate runs the same loading path the service uses, so a
// configuration that passes here will initialize.
func handleValidate(certFile, keyFile, chainFile, password string) {
	if certFile == "" && chainFile == "" {
		fmt.Fprintf(os.Stderr, "Error: -cert or -chain-file is required\n")
		os.Exit(1)
	}

	cfg := &config.Configuration{
		CertificateFilePath:      certFile,
		KeyFilePath:              keyFile,
		CertificateChainFilePath: chainFile,
		Password:                 password,
		CertsAreSelfSigned:       true,
	}
	if cfg.KeyFilePath == "" {
		cfg.KeyFilePath = cfg.CertificateFilePath
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Validation failed: %v\n", err)
		os.Exit(1)
	}

	identity, err := ssl.LoadIdentity(cfg)
	if err != nil {
		fmt.Printf("Credential loading failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Credential is valid:\n")
	fmt.Printf("  Subject: %s\n", identity.Leaf.Subject)
	fmt.Printf("  Expires: %s\n", identity.Leaf.NotAfter.Format(time.RFC3339))
	fmt.Printf("  Chain certificates: %d\n", len(identity.Chain))
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	return parts
}

func parseIPAddresses(value string) []net.IP {
	var ips []net.IP
	for _, part := range splitList(value) {
		if ip := net.ParseIP(part); ip != nil {
			ips = append(ips, ip)
		} else {
			log.Printf("Warning: invalid IP address: %s", part)
		}
	}
	return ips
}

func readCertificates(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parsePEMCertificates(data)
}
