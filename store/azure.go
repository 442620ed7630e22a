package store

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// BlobBackend stores the document as a block blob in an Azure container.
type BlobBackend struct {
	client    *azblob.Client
	container string
	blobName  string
}

// NewBlobBackend creates an Azure Blob Backend using the default credential
// chain against serviceURL.
func NewBlobBackend(serviceURL, container, blobName string) (*BlobBackend, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire Azure credential: %w", err)
	}
	client, err := azblob.NewClient(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure blob client: %w", err)
	}
	return NewBlobBackendWithClient(client, container, blobName), nil
}

// NewBlobBackendWithClient creates an Azure Blob Backend on an existing client.
func NewBlobBackendWithClient(client *azblob.Client, container, blobName string) *BlobBackend {
	return &BlobBackend{client: client, container: container, blobName: blobName}
}

// Load downloads the document, creating it with an empty object if absent.
func (b *BlobBackend) Load(ctx context.Context) ([]byte, error) {
	resp, err := b.client.DownloadStream(ctx, b.container, b.blobName, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			if err := b.Save(ctx, []byte(emptyDocument)); err != nil {
				return nil, err
			}
			return []byte(emptyDocument), nil
		}
		return nil, fmt.Errorf("failed to download pathway document blob: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read pathway document blob: %w", err)
	}
	return data, nil
}

// Save replaces the document blob.
func (b *BlobBackend) Save(ctx context.Context, data []byte) error {
	if _, err := b.client.UploadBuffer(ctx, b.container, b.blobName, data, nil); err != nil {
		return fmt.Errorf("failed to upload pathway document blob: %w", err)
	}
	return nil
}

// LastModified returns the blob modification time; a missing blob reports the
// zero time.
func (b *BlobBackend) LastModified(ctx context.Context) (time.Time, error) {
	blobClient := b.client.ServiceClient().
		NewContainerClient(b.container).
		NewBlobClient(b.blobName)

	props, err := blobClient.GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to read pathway document blob properties: %w", err)
	}
	if props.LastModified == nil {
		return time.Time{}, nil
	}
	return *props.LastModified, nil
}
