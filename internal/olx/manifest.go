package olx

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"sort"
)

// AssetRecord is one <asset> element of the roots/assets.xml manifest. Every
// serializable metadata attribute appears as a child element.
type AssetRecord struct {
	AssetType    string `xml:"asset_type"`
	Basename     string `xml:"basename"`
	InternalName string `xml:"internal_name"`
	Locked       bool   `xml:"locked"`
	EditedBy     string `xml:"edited_by"`
	EditedOn     string `xml:"edited_on"`
	CurrVersion  string `xml:"curr_version"`
	PrevVersion  string `xml:"prev_version"`
	ContentType  string `xml:"content_type"`
	MD5          string `xml:"md5"`
	ImportPath   string `xml:"import_path,omitempty"`
	Thumbnail    string `xml:"thumbnail_location,omitempty"`
}

type assetManifest struct {
	XMLName xml.Name      `xml:"assets"`
	Assets  []AssetRecord `xml:"asset"`
}

func manifestPath(dir string) string {
	return filepath.Join(dir, "roots", "assets.xml")
}

// WriteAssetManifest emits roots/assets.xml with records sorted by basename,
// so identical stores always serialize identically.
func WriteAssetManifest(dir string, records []AssetRecord) error {
	sorted := append([]AssetRecord(nil), records...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].AssetType != sorted[j].AssetType {
			return sorted[i].AssetType < sorted[j].AssetType
		}
		return sorted[i].Basename < sorted[j].Basename
	})
	data, err := xml.MarshalIndent(assetManifest{Assets: sorted}, "", "  ")
	if err != nil {
		return err
	}
	p := manifestPath(dir)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, append(data, '\n'), 0o644)
}

// ReadAssetManifest parses roots/assets.xml; a missing manifest is not an
// error.
func ReadAssetManifest(dir string) ([]AssetRecord, error) {
	data, err := os.ReadFile(manifestPath(dir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m assetManifest
	if err := xml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m.Assets, nil
}
