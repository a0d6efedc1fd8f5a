// internal/app/system/limits/limits.go
package limits

// Request body size limits for various features.
// These limits help prevent memory exhaustion from oversized requests.
const (
	// MaxJSONBody is the maximum size for JSON request bodies
	// (signup, login, approve, group creation).
	MaxJSONBody = 64 << 10 // 64 KB

	// MultipartMemory is how much of a document upload is held in memory
	// before the multipart parser spills to temp files. The upload itself
	// is bounded by the configured upload_max_bytes.
	MultipartMemory = 8 << 20 // 8 MB
)
