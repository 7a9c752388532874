/*
Package security provides cryptographic services for steelpipe clusters.

This package implements two core security capabilities: a Certificate
Authority (CA) for mutual TLS between the orchestrator and its workers, and
pool-scoped worker registration tokens. A small AES-256-GCM primitive
(secrets.go) underlies the CA, encrypting its root private key at rest.

# Architecture

steelpipe's security architecture is built on two pillars:

	┌───────────────────────────────────────────────┐
	│              Security Architecture             │
	└─────┬─────────────────────────┬─────────────────┘
	      │                         │
	      ▼                         ▼
	┌────────────────┐     ┌─────────────────────┐
	│       CA        │     │ Worker Registration │
	│  (Root + Leaf)   │     │       Tokens         │
	└────────┬────────┘     └──────────┬──────────┘
	         │                          │
	         ▼                          ▼
	  RSA 4096-bit root,         Pool-scoped, hex
	  RSA 2048-bit leaf,         bearer tokens with
	  90-day leaf certs          an expiry

## Cluster Encryption Key

All security is rooted in the cluster encryption key, a 32-byte key derived
from the cluster ID during initialization:

	clusterKey = SHA-256(clusterID)  // 32 bytes for AES-256

This key encrypts:
  - The CA's root private key (in storage)
  - Any other sensitive cluster data an orchestrator node holds

The key is stored only in memory on orchestrator nodes and must be provided
when joining the cluster or recovering from backups.

# Encryption Primitives

Encrypt/Decrypt (secrets.go) wrap AES-256 in Galois/Counter Mode (GCM),
providing authenticated encryption against the package-level cluster key:

	Plaintext → AES-256-GCM → Ciphertext + Authentication Tag
	                ↑
	            32-byte cluster key

Key features:
  - Authenticated encryption (integrity + confidentiality)
  - Random nonce per encryption (no nonce reuse)
  - Fast performance (~100MB/s on modern CPUs)

## Encryption Process

 1. Generate random 12-byte nonce
 2. Encrypt plaintext with AES-256-GCM
 3. Prepend nonce to ciphertext
 4. Store combined bytes: [nonce || ciphertext || tag]

This is how ca.go encrypts the CA's root private key before persisting it
(CertAuthority.SaveToStore), and decrypts it on load
(CertAuthority.LoadFromStore).

# Certificate Authority

## Root CA

steelpipe's CA uses a hierarchical structure with a long-lived root certificate:

	Root CA (self-signed)
	├── 10-year validity
	├── RSA 4096-bit key (high security)
	├── KeyUsage: CertSign, CRLSign
	└── Subject: CN=Steelpipe Root CA, O=Steelpipe Cluster

The root CA is created during cluster initialization and stored encrypted:

	Root Certificate: Stored in BoltDB (plaintext, public)
	Root Private Key: Stored in BoltDB (encrypted with cluster key)

## Node Certificates

The CA issues certificates for the orchestrator node itself and for every
worker that joins a pool:

	Node Certificate
	├── 90-day validity
	├── RSA 2048-bit key (faster operations)
	├── KeyUsage: DigitalSignature, KeyEncipherment
	├── ExtKeyUsage: ServerAuth, ClientAuth
	├── Subject: CN=orchestrator-{nodeID} or worker-{workerID},
	│            O=Steelpipe Cluster, OU=pool:{poolID} (workers only)
	├── DNS Names: [node hostname]
	└── IP Addresses: [node IP]

Each side receives a unique certificate for mutual TLS authentication:

	Orchestrator ←→ mTLS ←→ Worker
	     ↓                     ↓
	CA verifies           CA verifies
	worker cert       orchestrator cert

## Client Certificates

CLI clients also receive certificates for authentication:

	CLI Certificate
	├── 90-day validity
	├── KeyUsage: DigitalSignature, KeyEncipherment
	├── ExtKeyUsage: ClientAuth
	└── Subject: CN=cli-{clientID}, O=Steelpipe Cluster

This allows secure CLI → orchestrator communication without passwords.
IssueClientCertificate and the CLI transport that would consume it are
not wired into cmd/orchestrator today — the shipped CLI operates
directly on the local BoltDB store rather than over a remote RPC, so
there is no CLI-to-orchestrator connection for this certificate to
authenticate yet.

# Usage Examples

## Setting the Cluster Encryption Key

	import "github.com/cuemby/steelpipe/pkg/security"

	clusterKey := security.DeriveKeyFromClusterID(nodeID)
	if err := security.SetClusterEncryptionKey(clusterKey); err != nil {
		panic(err)
	}

## Encrypting and Decrypting Arbitrary Data

	plaintext := []byte("sensitive cluster data")
	ciphertext, err := security.Encrypt(plaintext)
	if err != nil {
		panic(err)
	}

	// Store ciphertext...

	decrypted, err := security.Decrypt(ciphertext)
	if err != nil {
		panic(err) // tampering detected or wrong key
	}

## Setting Up Certificate Authority

	import (
		"github.com/cuemby/steelpipe/pkg/security"
		"github.com/cuemby/steelpipe/pkg/storage"
	)

	// Create storage backend
	store, err := storage.NewBoltStore("/var/lib/steelpipe/node-1")
	if err != nil {
		panic(err)
	}

	// Set cluster encryption key (required for CA)
	clusterKey := security.DeriveKeyFromClusterID(nodeID)
	err = security.SetClusterEncryptionKey(clusterKey)
	if err != nil {
		panic(err)
	}

	// Create and initialize CA
	ca := security.NewCertAuthority(store)
	err = ca.Initialize()  // Generates root CA
	if err != nil {
		panic(err)
	}

	// Save CA to storage (encrypted)
	err = ca.SaveToStore()
	if err != nil {
		panic(err)
	}

## Issuing Certificates

	// Issue the orchestrator's own server certificate
	nodeID := "node-1"
	dnsNames := []string{"node1.cluster.local", "localhost"}
	ipAddresses := []net.IP{
		net.ParseIP("192.168.1.10"),
		net.ParseIP("127.0.0.1"),
	}

	tlsCert, err := ca.IssueOrchestratorCertificate(nodeID, dnsNames, ipAddresses)
	if err != nil {
		panic(err)
	}
	fmt.Println("Certificate issued for:", nodeID)
	fmt.Println("Valid until:", tlsCert.Leaf.NotAfter)

	// Issue a certificate for a worker joining pool "default" — the
	// pool is bound into the cert's OrganizationalUnit, so it can only
	// be used to register into that pool (VerifyWorkerCertificate).
	workerCert, err := ca.IssueWorkerCertificate("worker-1", "default", nil, nil)
	if err != nil {
		panic(err)
	}
	fmt.Println("Worker certificate valid until:", workerCert.Leaf.NotAfter)

## Verifying Certificates

	// Load certificate from file or network
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		panic(err)
	}

	// Verify against CA
	err = ca.VerifyCertificate(cert)
	if err != nil {
		// Certificate invalid or not issued by this CA
		panic(err)
	}

	fmt.Println("Certificate verified successfully")

## Certificate Rotation

	// Rotation is manual today (see "Certificate Rotation" below):
	// re-issue from the CA and swap the live tls.Certificate used by
	// the gRPC server/client.
	if time.Until(cert.NotAfter) < 30*24*time.Hour {
		newTLSCert, err := ca.IssueOrchestratorCertificate(nodeID, dnsNames, ipAddresses)
		if err != nil {
			panic(err)
		}
		fmt.Println("Certificate rotated, valid until:", newTLSCert.Leaf.NotAfter)
	}

# Integration Points

## Storage Integration

The CA is persisted to BoltDB:

	Bucket: "ca"
	Key: "root"
	Value: {RootCertDER: [...], RootKeyDER: [...encrypted...]}

The CA's private key is always encrypted at rest with the cluster
encryption key.

## Orchestrator Integration

cmd/orchestrator coordinates security operations at startup:

  - DeriveKeyFromClusterID(nodeID) + SetClusterEncryptionKey → rooted before
    any CA operation
  - ca.LoadFromStore() on restart, falling back to ca.Initialize() +
    ca.SaveToStore() on first boot
  - ca.IssueOrchestratorCertificate(nodeID, ...) → the cert the worker
    gRPC server presents
  - ca.IssueWorkerCertificate(workerID, poolID, ...) → minted for
    out-of-band handoff to a worker joining poolID (logged alongside
    the bootstrap registration token at startup)
  - tokens.Issue/Validate → worker registration token scoping

## gRPC TLS Integration

The worker gRPC server requires and verifies client certificates:

	// Server-side (orchestrator)
	creds := credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{orchestratorCert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    certPool,  // Contains root CA
	})

	// Client-side (worker)
	creds := credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{workerCert},
		RootCAs:      certPool,  // Contains root CA
	})

h.WithCertValidator(ca) (pkg/streaming) then checks the worker's
presented peer certificate against the pool it registers into
(CertAuthority.VerifyWorkerCertificate), on top of the token check.

This ensures:
  - All connections encrypted (TLS 1.2+)
  - Mutual authentication (both parties verified)
  - No unauthorized access (CA-signed certs required)
  - A cert minted for one pool can't be used to join another

## Worker Registration Tokens

Beyond secrets and the CA, WorkerTokenManager (token.go) issues short-lived,
pool-scoped tokens that a worker presents when opening its streaming
connection (pkg/streaming). Tokens are independent of the CA/mTLS layer: a
worker still needs a CA-issued certificate to open the TLS connection at
all, and a valid token scoped to its pool to be accepted onto it.

	tokens := security.NewWorkerTokenManager()
	tok, err := tokens.Issue("default", 24*time.Hour)
	// hand tok.Token to the worker out of band

	// streaming.Handler validates on connect:
	err = tokens.Validate(presentedToken, "default")

# Design Patterns

## Authenticated Encryption

GCM mode provides both confidentiality and integrity:

	Encryption:  plaintext + key + nonce → ciphertext + tag
	Decryption:  ciphertext + tag + key + nonce → plaintext (or error)

The authentication tag prevents tampering:
  - Modified ciphertext → decryption fails
  - Wrong key → decryption fails
  - Wrong nonce → decryption fails

This matters for the CA root key in particular — a silently corrupted
or tampered key must never be used to sign a certificate.

## Hierarchical PKI

The CA uses a standard hierarchical structure:

	Root CA (trust anchor)
	└── Node/Client Certificates (issued by root)

Benefits:
  - Root key rarely used (only for issuing certs)
  - Root can be offline for additional security
  - Revocation via CRL/OCSP (future enhancement)

## Key Derivation

The cluster encryption key is derived deterministically:

	clusterKey = SHA-256(clusterID)

This means:
  - Same cluster ID → same key (important for replicas)
  - Key can be recomputed without storage
  - Backup = cluster ID (must be kept secret!)

## Certificate Caching

The CA records each issued certificate in memory:

	certCache[id] = {Cert, Key, IssuedAt, ExpiresAt}

GetCachedCert looks a record up by id. Issuing never consults the cache:
every Issue* call generates a new key and certificate (~100ms).

# Performance Characteristics

## Encryption Performance

AES-256-GCM is hardware-accelerated on modern CPUs (AES-NI):

  - Encryption: ~100-200 MB/s per core
  - Decryption: ~100-200 MB/s per core
  - Small inputs (< 1KB, e.g. the CA root key): ~1-2μs per operation

The only data this package actually encrypts today is the CA's root
private key, once per CA initialization/load — throughput is not a
concern in practice.

## Certificate Issuance Performance

Certificate generation is more expensive:

  - Root CA generation (RSA 4096): ~500ms (one-time)
  - Node cert generation (RSA 2048): ~50-100ms
  - Certificate verification: ~1-2ms

Recommendations:
  - Cache certificates (reduces load)
  - Issue certificates asynchronously (don't block)
  - Pre-generate certificates when possible

## Memory Usage

Security operations are memory-efficient:

  - Cluster encryption key: 32 bytes, held in memory only
  - CA: ~100KB (root cert + cache)
  - Per-node certificate: ~2KB
  - Per-worker token: negligible (WorkerTokenManager holds a small map)

Total: ~5-10MB for typical cluster (100 nodes).

# Security Considerations

## Key Management

The cluster encryption key is critical:

  - Compromise = CA root private key exposed
  - Loss = CA unrecoverable, cluster must re-bootstrap trust
  - Must be backed up securely
  - Consider key rotation (future enhancement)

Best practices:
  - Store cluster ID in encrypted vault (HashiCorp Vault, etc.)
  - Use hardware security modules (HSM) for production
  - Rotate key periodically (requires re-encryption)

## Certificate Rotation

Certificates expire after 90 days (nodes) or 10 years (root CA):

  - Automatic rotation: Not yet implemented
  - Manual rotation: reissue via ca.IssueOrchestratorCertificate or
    ca.IssueWorkerCertificate and restart the node
  - Grace period: 30 days before expiry

Plan for rotation:
  - Monitor certificate expiry dates
  - Implement automated renewal (future)
  - Test rotation in staging

## Threat Model

steelpipe's security protects against:

	✓ Network eavesdropping (TLS encryption)
	✓ Unauthorized access (mTLS authentication)
	✓ CA key tampering at rest (authenticated encryption)
	✓ Impersonation (CA-signed certificates)
	✓ Unscoped worker join (pool-scoped registration tokens)

Steelpipe does NOT protect against:

	✗ Compromised cluster encryption key (CA root key exposed)
	✗ Compromised CA private key (issue fake certificates)
	✗ Compromised orchestrator node (full cluster access)
	✗ Physical access to storage (encrypted, but key in memory)

Defense in depth:
  - Encrypt storage volumes (LUKS, etc.)
  - Use secure boot and TPM
  - Implement RBAC (future enhancement)
  - Audit all security operations

## Cryptographic Agility

Steelpipe uses modern, proven cryptography:

  - AES-256-GCM (NIST approved, widely used)
  - RSA 2048/4096 (NIST approved, secure until ~2030)
  - SHA-256 (NIST approved, no known attacks)
  - TLS 1.2+ (industry standard)

Future considerations:
  - Ed25519 for certificates (faster, smaller)
  - ChaCha20-Poly1305 for secrets (software-friendly)
  - Post-quantum cryptography (long-term)

# Troubleshooting

## CA Root Key Decryption Failures

If ca.LoadFromStore's root-key decryption fails:

1. Check encryption key:
  - Ensure cluster key is correct
  - Verify key derivation from cluster ID
  - Check for key rotation events

2. Check for data corruption:
  - Verify ciphertext length (>= 28 bytes: 12 nonce + 16 tag)
  - Check storage backend integrity
  - Look for bit flips or disk errors

3. Check for tampering:
  - GCM will detect any modification
  - Check logs for unauthorized access
  - Review audit trails

## Certificate Verification Failures

If certificate verification fails:

1. Check CA consistency:
  - Ensure CA is loaded correctly
  - Verify root certificate matches
  - Check for CA rotation

2. Check certificate validity:
  - Verify not expired (NotAfter > now)
  - Verify not used too early (NotBefore < now)
  - Check certificate chain

3. Check certificate content:
  - Verify DNS names match
  - Verify IP addresses match
  - Check key usage flags

## Performance Issues

If security operations are slow:

1. Check CPU features:
  - Verify AES-NI is enabled (lscpu | grep aes)
  - Check for CPU throttling
  - Monitor CPU usage during encryption

2. Check certificate caching:
  - Verify cache is being used
  - Check cache hit rate
  - Monitor cert generation frequency

3. Check key size:
  - Consider RSA 2048 instead of 4096 for nodes
  - Balance security vs. performance
  - Profile cryptographic operations

# Monitoring Metrics

Key security metrics to monitor:

  - Certificate issuance rate (orchestrator + per-worker)
  - Certificate verification failures (pkg/streaming connect rejections)
  - Worker registration token validation failures
  - Certificate expiry dates
  - CA load/save operations (rare, should be low)

# See Also

  - pkg/storage - CA persistence backend
  - pkg/manager - raft-coordinated cluster state
  - pkg/streaming - worker stream mTLS and token gating
  - cmd/orchestrator - CA bootstrap and worker token issuance
*/
package security
