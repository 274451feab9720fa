// ABOUTME: Filesystem factory for creating Afero filesystems from URIs
// ABOUTME: Lets artifact and history stores live on local disk, S3, or SFTP roots

package filesystem

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	s3fs "github.com/fclairamb/afero-s3"
	"github.com/pkg/sftp"
	"github.com/spf13/afero"
	"golang.org/x/crypto/ssh"
)

// Options holds credentials for remote filesystems
type Options struct {
	// AWS credentials for S3
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSSessionToken    string
	AWSRegion          string

	// SSH credentials for SFTP
	SSHUser           string
	SSHPassword       string
	SSHPrivateKeyPath string
}

// Location describes a parsed store root
type Location struct {
	Scheme   string // file, s3, sftp, ssh
	Host     string
	Port     string
	Bucket   string // For S3
	Path     string // Path inside the filesystem
	Original string
}

// Parse parses a path or URI into a store location
func Parse(path string) (*Location, error) {
	loc := &Location{Original: path}

	if strings.Contains(path, "://") {
		u, err := url.Parse(path)
		if err != nil {
			return nil, fmt.Errorf("invalid store URI: %w", err)
		}

		loc.Scheme = u.Scheme
		loc.Host = u.Hostname()
		loc.Port = u.Port()
		loc.Path = u.Path

		if loc.Scheme == "s3" {
			loc.Bucket = loc.Host
			loc.Path = strings.TrimPrefix(loc.Path, "/")
		}

		return loc, nil
	}

	loc.Scheme = "file"
	loc.Path = path
	return loc, nil
}

// Resolve creates an Afero filesystem for a store root and returns it along
// with the base path inside that filesystem.
func Resolve(root string, opts *Options) (afero.Fs, string, error) {
	loc, err := Parse(root)
	if err != nil {
		return nil, "", err
	}

	if opts == nil {
		opts = &Options{}
	}

	switch loc.Scheme {
	case "file", "":
		abs, err := filepath.Abs(loc.Path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to resolve path '%s': %w", loc.Path, err)
		}
		return afero.NewOsFs(), abs, nil

	case "s3":
		fs, err := newS3Fs(loc, opts)
		return fs, loc.Path, err

	case "sftp", "ssh":
		fs, err := newSFTPFs(loc, opts)
		return fs, loc.Path, err

	default:
		return nil, "", fmt.Errorf("unsupported store scheme: %s", loc.Scheme)
	}
}

// newS3Fs creates an S3-backed Afero filesystem
func newS3Fs(loc *Location, opts *Options) (afero.Fs, error) {
	if loc.Bucket == "" {
		return nil, fmt.Errorf("S3 URI must specify a bucket: s3://bucket/prefix")
	}

	awsConfig := &aws.Config{}

	region := opts.AWSRegion
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}
	awsConfig.Region = aws.String(region)

	if opts.AWSAccessKeyID != "" && opts.AWSSecretAccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			opts.AWSAccessKeyID,
			opts.AWSSecretAccessKey,
			opts.AWSSessionToken,
		)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return s3fs.NewFs(loc.Bucket, sess), nil
}

// newSFTPFs creates an SFTP-backed Afero filesystem
func newSFTPFs(loc *Location, opts *Options) (afero.Fs, error) {
	if loc.Host == "" {
		return nil, fmt.Errorf("SFTP URI must specify a host: sftp://host/path")
	}

	username := opts.SSHUser
	if username == "" {
		username = os.Getenv("USER")
	}

	sshConfig := &ssh.ClientConfig{
		User:            username,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: known_hosts verification
	}

	if opts.SSHPassword != "" {
		sshConfig.Auth = append(sshConfig.Auth, ssh.Password(opts.SSHPassword))
	}

	keyPaths := []string{opts.SSHPrivateKeyPath}
	if opts.SSHPrivateKeyPath == "" {
		home := os.Getenv("HOME")
		keyPaths = []string{
			filepath.Join(home, ".ssh", "id_rsa"),
			filepath.Join(home, ".ssh", "id_ed25519"),
			filepath.Join(home, ".ssh", "id_ecdsa"),
		}
	}
	for _, keyPath := range keyPaths {
		keyBytes, err := os.ReadFile(keyPath)
		if err != nil {
			continue
		}
		if signer, err := ssh.ParsePrivateKey(keyBytes); err == nil {
			sshConfig.Auth = append(sshConfig.Auth, ssh.PublicKeys(signer))
			break
		}
	}

	if len(sshConfig.Auth) == 0 {
		return nil, fmt.Errorf("no SSH authentication method available")
	}

	port := loc.Port
	if port == "" {
		port = "22"
	}

	conn, err := ssh.Dial("tcp", fmt.Sprintf("%s:%s", loc.Host, port), sshConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SSH server: %w", err)
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create SFTP client: %w", err)
	}

	return &sftpFs{client: client}, nil
}

// sftpFs is an Afero filesystem implementation backed by SFTP
type sftpFs struct {
	client *sftp.Client
}

// sftpFile wraps sftp.File to implement afero.File
type sftpFile struct {
	*sftp.File
	client *sftp.Client
	name   string
}

func (f *sftpFile) Readdir(count int) ([]os.FileInfo, error) {
	entries, err := f.client.ReadDir(f.name)
	if err != nil {
		return nil, err
	}
	if count > 0 && len(entries) > count {
		entries = entries[:count]
	}
	return entries, nil
}

func (f *sftpFile) Readdirnames(n int) ([]string, error) {
	entries, err := f.Readdir(n)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, entry := range entries {
		names[i] = entry.Name()
	}
	return names, nil
}

func (f *sftpFile) WriteString(s string) (int, error) {
	return f.Write([]byte(s))
}

func (fs *sftpFs) Create(name string) (afero.File, error) {
	f, err := fs.client.Create(name)
	if err != nil {
		return nil, err
	}
	return &sftpFile{File: f, client: fs.client, name: name}, nil
}

func (fs *sftpFs) Mkdir(name string, perm os.FileMode) error {
	return fs.client.Mkdir(name)
}

func (fs *sftpFs) MkdirAll(path string, perm os.FileMode) error {
	return fs.client.MkdirAll(path)
}

func (fs *sftpFs) Open(name string) (afero.File, error) {
	f, err := fs.client.Open(name)
	if err != nil {
		return nil, err
	}
	return &sftpFile{File: f, client: fs.client, name: name}, nil
}

func (fs *sftpFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	f, err := fs.client.OpenFile(name, flag)
	if err != nil {
		return nil, err
	}
	return &sftpFile{File: f, client: fs.client, name: name}, nil
}

func (fs *sftpFs) Remove(name string) error {
	return fs.client.Remove(name)
}

func (fs *sftpFs) RemoveAll(path string) error {
	return fs.client.RemoveAll(path)
}

func (fs *sftpFs) Rename(oldname, newname string) error {
	return fs.client.Rename(oldname, newname)
}

func (fs *sftpFs) Stat(name string) (os.FileInfo, error) {
	return fs.client.Stat(name)
}

func (fs *sftpFs) Name() string {
	return "sftpFs"
}

func (fs *sftpFs) Chmod(name string, mode os.FileMode) error {
	return fs.client.Chmod(name, mode)
}

func (fs *sftpFs) Chown(name string, uid, gid int) error {
	return fs.client.Chown(name, uid, gid)
}

func (fs *sftpFs) Chtimes(name string, atime, mtime time.Time) error {
	return fs.client.Chtimes(name, atime, mtime)
}
