// internal/storage/project_index.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Corphon/SceneForge/internal/models"
	_ "modernc.org/sqlite"
)

// ErrProjectNotIndexed 目录中没有该项目
var ErrProjectNotIndexed = errors.New("project not indexed")

// ProjectRecord 项目目录的一行
type ProjectRecord struct {
	ProjectID string
	Title     string
	CreatedAt time.Time
	Analysis  models.ScriptAnalysis
}

// SavedImage 审批后保存的图像
type SavedImage struct {
	ProjectID   string
	SceneNumber int
	FileName    string
	SourceURL   string
	SavedAt     time.Time
}

// ProjectIndex 基于 SQLite 的项目目录
type ProjectIndex struct {
	db *sql.DB
}

// OpenProjectIndex 打开数据库并执行迁移
func OpenProjectIndex(path string) (*ProjectIndex, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	// 单连接避免并发写入时的 SQLITE_BUSY
	db.SetMaxOpenConns(1)

	idx := &ProjectIndex{db: db}
	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return idx, nil
}

func (p *ProjectIndex) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			analysis TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS saved_images (
			project_id TEXT NOT NULL,
			scene_number INTEGER NOT NULL,
			file_name TEXT NOT NULL,
			source_url TEXT,
			saved_at DATETIME NOT NULL,
			PRIMARY KEY (project_id, scene_number)
		);`,
	}
	for _, q := range queries {
		if _, err := p.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// Close 关闭数据库
func (p *ProjectIndex) Close() error {
	return p.db.Close()
}

// InsertProject 写入新项目
func (p *ProjectIndex) InsertProject(ctx context.Context, rec ProjectRecord) error {
	analysis, err := json.Marshal(rec.Analysis)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO projects (id, title, created_at, analysis) VALUES (?, ?, ?, ?)`,
		rec.ProjectID, rec.Title, rec.CreatedAt.UTC(), string(analysis))
	if err != nil {
		return fmt.Errorf("insert project %s: %w", rec.ProjectID, err)
	}
	return nil
}

// GetProject 按 id 查询项目
func (p *ProjectIndex) GetProject(ctx context.Context, id string) (*ProjectRecord, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, analysis FROM projects WHERE id = ?`, id)
	rec, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProjectNotIndexed
	}
	return rec, err
}

// ListProjects 按创建时间倒序列出项目
func (p *ProjectIndex) ListProjects(ctx context.Context) ([]ProjectRecord, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, title, created_at, analysis FROM projects ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ProjectRecord
	for rows.Next() {
		rec, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*ProjectRecord, error) {
	var rec ProjectRecord
	var analysis string
	if err := row.Scan(&rec.ProjectID, &rec.Title, &rec.CreatedAt, &analysis); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(analysis), &rec.Analysis); err != nil {
		return nil, fmt.Errorf("decode analysis for %s: %w", rec.ProjectID, err)
	}
	return &rec, nil
}

// RecordSavedImage 记录审批保存的图像，同一场景重复保存时覆盖
func (p *ProjectIndex) RecordSavedImage(ctx context.Context, img SavedImage) error {
	if img.SavedAt.IsZero() {
		img.SavedAt = time.Now()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO saved_images (project_id, scene_number, file_name, source_url, saved_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(project_id, scene_number) DO UPDATE SET
			file_name = excluded.file_name,
			source_url = excluded.source_url,
			saved_at = excluded.saved_at`,
		img.ProjectID, img.SceneNumber, img.FileName, img.SourceURL, img.SavedAt.UTC())
	return err
}

// SavedImages 列出项目已保存的图像
func (p *ProjectIndex) SavedImages(ctx context.Context, projectID string) ([]SavedImage, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT project_id, scene_number, file_name, source_url, saved_at
		 FROM saved_images WHERE project_id = ? ORDER BY scene_number`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []SavedImage
	for rows.Next() {
		var img SavedImage
		var source sql.NullString
		if err := rows.Scan(&img.ProjectID, &img.SceneNumber, &img.FileName, &source, &img.SavedAt); err != nil {
			return nil, err
		}
		img.SourceURL = source.String
		images = append(images, img)
	}
	return images, rows.Err()
}

// CountProjects 项目总数
func (p *ProjectIndex) CountProjects(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`).Scan(&n)
	return n, err
}
