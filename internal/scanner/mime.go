package scanner

// mimeTable is the fixed extension lookup from spec.md §4.4. Anything not
// listed here falls back to application/octet-stream; directories always
// get inode/directory regardless of extension.
var mimeTable = map[string]string{
	".txt":  "text/plain",
	".md":   "text/plain",
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".json": "application/json",
	".xml":  "application/xml",
	".pdf":  "application/pdf",
	".zip":  "application/zip",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
}

const directoryMimeType = "inode/directory"

func mimeTypeForExtension(ext string) string {
	if mt, ok := mimeTable[ext]; ok {
		return mt
	}
	return "application/octet-stream"
}
