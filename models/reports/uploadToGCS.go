package reports

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const XlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	// ADC unless explicit credentials are configured
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

// UploadToGCS stores data under objectName in GCS_BUCKET and returns the gs:// URI.
func UploadToGCS(ctx context.Context, objectName string, data []byte, contentType string) (string, error) {
	bucketName := strings.TrimSpace(os.Getenv("GCS_BUCKET"))
	if bucketName == "" {
		return "", errors.New("GCS_BUCKET is required")
	}
	if objectName == "" || strings.Contains(objectName, "..") || strings.HasPrefix(objectName, "/") {
		return "", fmt.Errorf("invalid object name %q", objectName)
	}

	client, err := getGoogleClient(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	wc := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	wc.ContentType = contentType
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return "", err
	}
	if err := wc.Close(); err != nil {
		return "", err
	}
	return fmt.Sprintf("gs://%s/%s", bucketName, objectName), nil
}

// ValuationObjectName is where an export for tenant is stored.
func ValuationObjectName(tenantId, stamp string) string {
	return fmt.Sprintf("exports/%s/inventory-valuation-%s.xlsx", tenantId, stamp)
}

// ExportValuationToGCS renders the valuation report as xlsx and uploads it.
func ExportValuationToGCS(ctx context.Context, tenantId string, report *InventoryValuationReport) (string, error) {
	var buf bytes.Buffer
	if err := WriteValuationExcel(report, &buf); err != nil {
		return "", err
	}
	name := ValuationObjectName(tenantId, report.GeneratedAt.UTC().Format("20060102T150405Z"))
	return UploadToGCS(ctx, name, buf.Bytes(), XlsxContentType)
}
