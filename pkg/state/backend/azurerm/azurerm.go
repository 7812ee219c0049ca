// Package azurerm implements an Azure Blob Storage archive backend.
package azurerm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/davidthor/vmprov/pkg/state/backend"
)

func init() {
	backend.Register("azurerm", NewBackend)
}

// Backend stores blobs in an Azure storage container.
type Backend struct {
	client        *azblob.Client
	containerName string
	prefix        string
}

// NewBackend creates an Azure backend. Recognised keys: storage_account_name
// and container_name (required), prefix, endpoint, and one of access_key,
// sas_token or connection_string. Without any of those the default Azure
// credential chain is used.
func NewBackend(cfg map[string]string) (backend.Backend, error) {
	storageAccount := cfg["storage_account_name"]
	if storageAccount == "" {
		return nil, fmt.Errorf("azurerm backend requires 'storage_account_name' configuration")
	}
	containerName := cfg["container_name"]
	if containerName == "" {
		return nil, fmt.Errorf("azurerm backend requires 'container_name' configuration")
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", storageAccount)
	if endpoint := cfg["endpoint"]; endpoint != "" {
		serviceURL = endpoint
	}

	client, err := newClient(storageAccount, serviceURL, cfg)
	if err != nil {
		return nil, err
	}

	return &Backend{
		client:        client,
		containerName: containerName,
		prefix:        strings.Trim(cfg["prefix"], "/"),
	}, nil
}

func newClient(account, serviceURL string, cfg map[string]string) (*azblob.Client, error) {
	switch {
	case cfg["access_key"] != "":
		cred, err := azblob.NewSharedKeyCredential(account, cfg["access_key"])
		if err != nil {
			return nil, fmt.Errorf("failed to create shared key credential: %w", err)
		}
		return azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)

	case cfg["sas_token"] != "":
		sep := "?"
		if strings.Contains(serviceURL, "?") {
			sep = "&"
		}
		return azblob.NewClientWithNoCredential(serviceURL+sep+strings.TrimPrefix(cfg["sas_token"], "?"), nil)

	case cfg["connection_string"] != "":
		return azblob.NewClientFromConnectionString(cfg["connection_string"], nil)

	default:
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create default Azure credential: %w", err)
		}
		return azblob.NewClient(serviceURL, cred, nil)
	}
}

func (b *Backend) Type() string {
	return "azurerm"
}

func (b *Backend) Read(ctx context.Context, blobPath string) (io.ReadCloser, error) {
	name := b.fullPath(blobPath)

	resp, err := b.client.DownloadStream(ctx, b.containerName, name, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, backend.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read azure://%s/%s: %w", b.containerName, name, err)
	}
	return resp.Body, nil
}

func (b *Backend) Write(ctx context.Context, blobPath string, data io.Reader) error {
	name := b.fullPath(blobPath)

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, data); err != nil {
		return fmt.Errorf("failed to read data: %w", err)
	}

	if _, err := b.client.UploadBuffer(ctx, b.containerName, name, buf.Bytes(), nil); err != nil {
		return fmt.Errorf("failed to write azure://%s/%s: %w", b.containerName, name, err)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, blobPath string) error {
	name := b.fullPath(blobPath)

	_, err := b.client.DeleteBlob(ctx, b.containerName, name, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("failed to delete azure://%s/%s: %w", b.containerName, name, err)
	}
	return nil
}

func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := b.fullPath(prefix)

	var paths []string
	pager := b.client.NewListBlobsFlatPager(b.containerName, &container.ListBlobsFlatOptions{
		Prefix: &fullPrefix,
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list azure://%s/%s: %w", b.containerName, fullPrefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				paths = append(paths, b.relativePath(*item.Name))
			}
		}
	}
	return paths, nil
}

func (b *Backend) Exists(ctx context.Context, blobPath string) (bool, error) {
	name := b.fullPath(blobPath)

	_, err := b.client.ServiceClient().NewContainerClient(b.containerName).NewBlobClient(name).GetProperties(ctx, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return false, nil
		}
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check azure://%s/%s: %w", b.containerName, name, err)
	}
	return true, nil
}

func (b *Backend) fullPath(blobPath string) string {
	if b.prefix == "" {
		return blobPath
	}
	if blobPath == "" {
		return b.prefix + "/"
	}
	joined := path.Join(b.prefix, blobPath)
	if strings.HasSuffix(blobPath, "/") {
		joined += "/"
	}
	return joined
}

func (b *Backend) relativePath(name string) string {
	if b.prefix == "" {
		return name
	}
	return strings.TrimPrefix(name, b.prefix+"/")
}

var _ backend.Backend = (*Backend)(nil)
