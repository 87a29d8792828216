package storage

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/pbkdf2"

	"github.com/local/examextract/internal/review"
)

// S3Client wraps the AWS S3 client with archive decryption for exam papers
// and versioned question export.
type S3Client struct {
	client     *s3.Client
	uploader   *manager.Uploader
	bucketName string
	exportPass string
}

// Options configures the S3 client. Empty AccessKey falls back to the
// default AWS credential chain.
type Options struct {
	Bucket         string
	Region         string
	AccessKey      string
	SecretKey      string
	ExportPassword string // when set, exports are encrypted in the archive format
}

// FileMetadata represents metadata about a stored file
type FileMetadata struct {
	OriginalName     string            `json:"original_name"`
	ContentType      string            `json:"content_type"`
	Size             int64             `json:"size"`
	Encrypted        bool              `json:"encrypted"`
	Metadata         map[string]string `json:"metadata"`
	EncryptionFormat string            `json:"encryption_format,omitempty"` // "GCM3NCR0", "3NCR0PTD", or "legacy_gcm"
}

// NewS3Client creates a new S3 client
func NewS3Client(ctx context.Context, opts Options) (*S3Client, error) {
	var loadOpts []func(*awscfg.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	cli := s3.NewFromConfig(cfg)

	return &S3Client{
		client:     cli,
		uploader:   manager.NewUploader(cli),
		bucketName: opts.Bucket,
		exportPass: opts.ExportPassword,
	}, nil
}

// DownloadFile downloads and decrypts an exam paper from S3.
func (s *S3Client) DownloadFile(ctx context.Context, key, password string) ([]byte, *FileMetadata, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	defer result.Body.Close()

	encryptedData, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read S3 object: %w", err)
	}

	metadata := &FileMetadata{
		Encrypted: true,
		Metadata:  make(map[string]string),
	}
	if result.Metadata != nil {
		if name, ok := result.Metadata["name"]; ok {
			metadata.OriginalName = name
		} else if name, ok := result.Metadata["Name"]; ok {
			metadata.OriginalName = name
		}
		for k, v := range result.Metadata {
			metadata.Metadata[strings.ToLower(k)] = v
		}
	}
	if result.ContentLength != nil {
		metadata.Size = *result.ContentLength
	}

	decryptedData, encryptionFormat, err := s.decryptData(encryptedData, password)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decrypt data: %w", err)
	}

	metadata.EncryptionFormat = encryptionFormat
	log.Info().
		Str("key", key).
		Str("encryption_format", encryptionFormat).
		Str("original_name", metadata.OriginalName).
		Int("size", len(decryptedData)).
		Msg("downloaded and decrypted exam paper from S3")

	return decryptedData, metadata, nil
}

// decryptData decrypts data supporting both GCM (new) and CBC legacy archive
// formats. Returns decrypted data and the detected encryption format.
func (s *S3Client) decryptData(encryptedData []byte, password string) ([]byte, string, error) {
	if len(encryptedData) < 8 {
		return nil, "", fmt.Errorf("encrypted data too short: %d bytes", len(encryptedData))
	}

	// Auto-detect format by magic number
	magicNumber := encryptedData[:8]

	switch string(magicNumber) {
	case "GCM3NCR0":
		data, err := s.decryptGCM(encryptedData, password)
		return data, "GCM3NCR0", err

	case "3NCR0PTD":
		data, err := s.decryptLegacyCBC(encryptedData, password)
		return data, "3NCR0PTD", err

	default:
		// very old archives carry no magic number
		data, err := s.decryptLegacyGCM(encryptedData, password)
		return data, "legacy_gcm", err
	}
}

// decryptGCM decrypts data using the GCM archive format.
func (s *S3Client) decryptGCM(encryptedData []byte, password string) ([]byte, error) {
	// Format: magic(8) + salt(16) + nonce(12) + encrypted_data + auth_tag(16)
	if len(encryptedData) < 8+16+12+16 {
		return nil, fmt.Errorf("GCM data too short: %d bytes", len(encryptedData))
	}

	salt := encryptedData[8:24]
	nonce := encryptedData[24:36]
	encryptedWithTag := encryptedData[36:]

	key := pbkdf2.Key([]byte(password), salt, 100000, 32, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, encryptedWithTag, nil)
	if err != nil {
		return nil, fmt.Errorf("GCM decryption failed: %w", err)
	}
	return plaintext, nil
}

// decryptLegacyCBC decrypts data using the legacy CBC archive format.
func (s *S3Client) decryptLegacyCBC(encryptedData []byte, password string) ([]byte, error) {
	// Format: magic(8) + hash(32) + length(8) + salt(16) + iv(16) + encrypted_data
	if len(encryptedData) < 8+32+8+16+16 {
		return nil, fmt.Errorf("legacy CBC data too short: %d bytes", len(encryptedData))
	}

	storedHash := encryptedData[8:40]
	lengthBytes := encryptedData[40:48]
	length := binary.BigEndian.Uint64(lengthBytes)
	encrypted := encryptedData[48:]

	if len(encrypted) != int(length) {
		return nil, fmt.Errorf("length mismatch: expected %d, got %d", length, len(encrypted))
	}

	calculatedHash := sha256.Sum256(encrypted)
	if !bytes.Equal(storedHash, calculatedHash[:]) {
		return nil, fmt.Errorf("hash verification failed - data corrupted")
	}

	salt := encrypted[:16]
	iv := encrypted[16:32]
	ciphertext := encrypted[32:]

	key := pbkdf2.Key([]byte(password), salt, 100000, 32, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext is not a multiple of block size")
	}

	mode := cipher.NewCBCDecrypter(block, iv)
	plaintext := make([]byte, len(ciphertext))
	mode.CryptBlocks(plaintext, ciphertext)

	unpadded, err := removePKCS7Padding(plaintext)
	if err != nil {
		log.Warn().Err(err).Msg("PKCS7 unpadding failed, using raw data (old format)")
		// backward compatibility with archives that didn't use padding
		return plaintext, nil
	}
	return unpadded, nil
}

// decryptLegacyGCM decrypts data using the old GCM format without magic number.
func (s *S3Client) decryptLegacyGCM(encryptedData []byte, password string) ([]byte, error) {
	// Format: salt(16) + nonce(12) + encrypted_data
	if len(encryptedData) < 28 {
		return nil, fmt.Errorf("legacy GCM data too short: %d bytes", len(encryptedData))
	}

	salt := encryptedData[:16]
	nonce := encryptedData[16:28]
	ciphertext := encryptedData[28:]

	key := pbkdf2.Key([]byte(password), salt, 100000, 32, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("legacy GCM decryption failed: %w", err)
	}
	return plaintext, nil
}

func removePKCS7Padding(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty data")
	}
	paddingLength := int(data[len(data)-1])
	if paddingLength == 0 || paddingLength > aes.BlockSize || paddingLength > len(data) {
		return nil, fmt.Errorf("invalid padding length: %d", paddingLength)
	}
	for i := len(data) - paddingLength; i < len(data); i++ {
		if data[i] != byte(paddingLength) {
			return nil, fmt.Errorf("invalid padding at position %d", i)
		}
	}
	return data[:len(data)-paddingLength], nil
}

// ExportQuestions uploads a page's saved questions as a versioned JSON object
// under questions/{doc}/page-{page}_v{N}. When an export password is
// configured, the payload is encrypted in the archive CBC format.
func (s *S3Client) ExportQuestions(ctx context.Context, docID string, page int, qs []review.ExtractedQuestion) (string, error) {
	payload, err := json.MarshalIndent(qs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal questions: %w", err)
	}

	baseKey := fmt.Sprintf("questions/%s/page-%d", docID, page)
	version, err := s.ListNextVersion(ctx, baseKey)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("%s_v%d", baseKey, version)

	body := payload
	contentType := "application/json"
	meta := map[string]string{
		"document-id": docID,
		"page":        strconv.Itoa(page),
		"questions":   strconv.Itoa(len(qs)),
	}
	if s.exportPass != "" {
		body, err = encryptLegacyCBC(payload, s.exportPass)
		if err != nil {
			return "", fmt.Errorf("encrypt export: %w", err)
		}
		contentType = "application/octet-stream"
		meta["encrypted"] = "true"
		meta["encryption-format"] = "3NCR0PTD"
	}

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata:    meta,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	log.Info().Str("key", key).Int("questions", len(qs)).Msg("exported questions to S3")
	return fmt.Sprintf("s3://%s/%s", s.bucketName, key), nil
}

// ListNextVersion returns the next available integer suffix for a base key using pattern baseKey_v{N}
func (s *S3Client) ListNextVersion(ctx context.Context, baseKey string) (int, error) {
	if baseKey == "" {
		return 1, nil
	}

	prefix := baseKey + "_v"
	maxVersion := 0

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucketName),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 1, fmt.Errorf("list versions failed: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			key := *obj.Key
			if strings.HasPrefix(key, prefix) {
				verStr := strings.TrimPrefix(key, prefix)
				if n, err := strconv.Atoi(verStr); err == nil && n > maxVersion {
					maxVersion = n
				}
			}
		}
	}

	return maxVersion + 1, nil
}

// encryptLegacyCBC encrypts data in the archive CBC format.
func encryptLegacyCBC(data []byte, password string) ([]byte, error) {
	salt := make([]byte, 16)
	iv := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	key := pbkdf2.Key([]byte(password), salt, 100000, 32, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	paddedData := applyPKCS7Padding(data, aes.BlockSize)
	mode := cipher.NewCBCEncrypter(block, iv)
	ciphertext := make([]byte, len(paddedData))
	mode.CryptBlocks(ciphertext, paddedData)

	encrypted := make([]byte, 0, 16+16+len(ciphertext))
	encrypted = append(encrypted, salt...)
	encrypted = append(encrypted, iv...)
	encrypted = append(encrypted, ciphertext...)

	hash := sha256.Sum256(encrypted)

	// Format: magic(8) + hash(32) + length(8) + salt(16) + iv(16) + encrypted_data
	magicNumber := []byte("3NCR0PTD")
	lengthBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(lengthBytes, uint64(len(encrypted)))

	result := make([]byte, 0, len(magicNumber)+32+8+len(encrypted))
	result = append(result, magicNumber...)
	result = append(result, hash[:]...)
	result = append(result, lengthBytes...)
	result = append(result, encrypted...)

	return result, nil
}

// applyPKCS7Padding applies PKCS7 padding to data
func applyPKCS7Padding(data []byte, blockSize int) []byte {
	padding := blockSize - (len(data) % blockSize)
	padText := bytes.Repeat([]byte{byte(padding)}, padding)
	return append(data, padText...)
}
