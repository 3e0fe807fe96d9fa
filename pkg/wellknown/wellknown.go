// Package wellknown provides the conventional names a public web service
// tends to expose. Probing units fall back to these lists when a target
// profile does not override them.
package wellknown

// SubdomainPrefixes are hostnames commonly carved out of an apex domain
// for public-facing infrastructure. Sorted for consistent output.
var SubdomainPrefixes = []string{
	"admin", "api", "beta", "canary", "cdn", "developer", "developers",
	"gateway", "media", "staging", "status", "support",
}

// DNSRecordTypes are the record types the dns unit queries per domain.
var DNSRecordTypes = []string{"A", "AAAA", "MX", "NS", "TXT", "CNAME", "SOA"}

// APIEndpoints are REST paths worth probing on any conventional API base.
var APIEndpoints = []string{
	"/gateway", "/health", "/status", "/version", "/config",
}

// AuthEndpoints are REST paths that only respond meaningfully with a
// credential attached.
var AuthEndpoints = []string{
	"/users/@me", "/users/@me/memberships",
}

// ObjectEndpoints are path segments under which CDNs conventionally store
// user-supplied objects.
var ObjectEndpoints = []string{
	"assets", "attachments", "avatars", "banners", "emojis", "icons", "uploads",
}

// FuzzPatterns are the path templates the fuzz generator expands for each
// candidate object identifier. Placeholders: {id}, {ext}, {endpoint}.
var FuzzPatterns = []string{
	"{id}",
	"{id}.{ext}",
	"{id}/original",
	"{id}?size=1024",
	"{id}?width=100&height=100",
	"{endpoint}/{id}",
	"avatars/{id}/{id}",
}

// ImageExtensions are the file extensions substituted for {ext}.
var ImageExtensions = []string{"png", "jpg", "jpeg", "gif", "webp"}

// ThumbnailSizes are the size query values probed against resizing endpoints.
var ThumbnailSizes = []int{16, 32, 64, 128, 256, 512, 1024, 2048, 4096}

// DirectoryCategories are category slugs commonly accepted by public
// discovery or directory listings.
var DirectoryCategories = []string{
	"anime", "community", "creative", "education", "entertainment",
	"gaming", "music", "science", "technology",
}
