package webdav

// HTTP methods used in WebDAV protocol
const (
	PROPFIND  = "PROPFIND"
	PROPPATCH = "PROPPATCH"
	MKCOL     = "MKCOL"
	MOVE      = "MOVE"
	COPY      = "COPY"
	GET       = "GET"
	PUT       = "PUT"
	DELETE    = "DELETE"
)

// HTTP status codes used in WebDAV protocol
const (
	StatusMultiStatus         = 207
	StatusUnprocessableEntity = 422
	StatusLocked              = 423
	StatusFailedDependency    = 424
	StatusInsufficientStorage = 507
)

// HTTP headers used in WebDAV protocol
const (
	DepthHeader         = "Depth"
	DestinationHeader   = "Destination"
	OverwriteHeader     = "Overwrite"
	RangeHeader         = "Range"
	ContentRangeHeader  = "Content-Range"
	AuthorizationHeader = "Authorization"
	ContentTypeHeader   = "Content-Type"
	AcceptHeader        = "Accept"
)

// Depth header values
const (
	DepthZero     = "0"
	DepthOne      = "1"
	DepthInfinity = "infinity"
)

const (
	xmlContentType    = `application/xml; charset="utf-8"`
	binaryContentType = "application/octet-stream"
	davNamespace      = "DAV:"
)
