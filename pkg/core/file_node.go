package core

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// FileNode root directory values.
const (
	FileNodeRootResource = "resource"
	FileNodeRootData     = "data"
)

// FileNode node type values.
const (
	FileNodeTypeFile   = "file"
	FileNodeTypeFolder = "folder"
)

// FileNode is a discovered file or folder inside a repository. Its id is the
// md5 of the full path combined with the node type, so re-scanning a
// repository yields the same ids and never enqueues duplicates.
type FileNode struct {
	ID              string   `json:"id"`
	RootDirectory   string   `json:"root_directory"`
	FileDirs        []string `json:"file_dirs,omitempty"`
	FileName        string   `json:"file_name"`
	NodeType        string   `json:"node_type"`
	RepoID          string   `json:"repo_id,omitempty"`
	TrackingID      string   `json:"tracking_id"`
	PercentComplete float64  `json:"percent_complete"`
}

// NewFileNode constructs a FileNode with its content-hash id and a fresh
// tracking id.
func NewFileNode(rootDirectory, fileName, nodeType string, fileDirs []string) (*FileNode, error) {
	switch rootDirectory {
	case FileNodeRootResource:
		fileName = strings.TrimLeft(fileName, "./\\")
	case FileNodeRootData:
		fileName = strings.Trim(fileName, "/\\")
	default:
		return nil, fmt.Errorf("%w: unknown root directory %q", ErrValidation, rootDirectory)
	}

	n := &FileNode{
		RootDirectory: rootDirectory,
		FileDirs:      fileDirs,
		FileName:      fileName,
		NodeType:      nodeType,
		TrackingID:    uuid.NewString(),
	}
	n.ID = n.SourceID()
	return n, nil
}

// FilePath assembles the directory path from its components.
func (n *FileNode) FilePath() string {
	return path.Join(n.FileDirs...)
}

// FullPath is the directory path plus the file name.
func (n *FileNode) FullPath() string {
	return path.Join(n.FilePath(), n.FileName)
}

// SourceID is the stable content-hash identifier for this node. The node
// type is part of the hash so a file and folder with the same path do not
// collide.
func (n *FileNode) SourceID() string {
	return HashContent(n.FullPath() + ":" + n.NodeType)
}
