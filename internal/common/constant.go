package common

const (
	// AuthorizationHeaderName carries the bearer token on outbound requests.
	AuthorizationHeaderName = "Authorization"

	// ChunkChecksumHeaderName carries the blake2b-256 digest of a chunk body.
	ChunkChecksumHeaderName = "X-Chunk-Checksum"

	// AuthTokenKey is the metadata key under which the CLI keeps the bearer token.
	AuthTokenKey = "auth_token"
	// AuthServerKey holds the server URL the stored token was issued for.
	AuthServerKey = "auth_server"

	// UploadQueueKey is the metadata key holding the serialized job list.
	UploadQueueKey = "upload_queue"
)
