package limits

// Byte caps for files and responses read by the workbench

const (
	// Manifest caps dependency manifests and env templates read during discovery (1MB)
	Manifest = 1 << 20

	// SourceFile caps each source file scanned for health routes (256KB)
	// Larger files are skipped rather than truncated
	SourceFile = 256 << 10

	// SourceFiles bounds how many source files one health-route scan may open
	SourceFiles = 5000

	// HealthBody is the maximum body drained from a health endpoint (1KB)
	HealthBody = 1024

	// CommandOutput caps stderr kept from git and install commands for error messages (4KB)
	CommandOutput = 4 << 10
)
