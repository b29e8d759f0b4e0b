package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"rag-chat-go/internal/model"
	"rag-chat-go/internal/service"
	"rag-chat-go/pkg/log"
)

func runSeed(cmd *cobra.Command, args []string) error {
	dir, _ := cmd.Flags().GetString("dir")
	username, _ := cmd.Flags().GetString("user")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	owner, err := a.userService.GetProfile(ctx, username)
	if err != nil {
		return fmt.Errorf("找不到用户 %q: %w", username, err)
	}
	imported, skipped, err := seedDirectory(ctx, a.documentService, owner.ID, dir)
	if err != nil {
		return err
	}
	log.Infof("[Seed] 导入完成, 新增: %d, 跳过: %d", imported, skipped)
	return nil
}

// seedDirectory 通过正常的上传流程导入目录下的文件，已存在的同名文件会被跳过。
func seedDirectory(ctx context.Context, docs service.DocumentService, userID uint, dir string) (imported, skipped int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, fmt.Errorf("读取目录 %s 失败: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		ok, err := seedFile(ctx, docs, userID, path)
		if err != nil {
			log.Warnf("[Seed] 导入失败, file: %s, error: %v", path, err)
			continue
		}
		if ok {
			imported++
		} else {
			skipped++
		}
	}
	return imported, skipped, nil
}

func seedFile(ctx context.Context, docs service.DocumentService, userID uint, path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return false, err
	}

	_, err = docs.Upload(ctx, service.UploadRequest{
		UserID:   userID,
		Filename: info.Name(),
		Size:     info.Size(),
		Body:     f,
	})
	if errors.Is(err, model.ErrDocumentExists) {
		log.Infof("[Seed] 已存在，跳过: %s", info.Name())
		return false, nil
	}
	if err != nil {
		return false, err
	}
	log.Infof("[Seed] 已导入: %s", info.Name())
	return true, nil
}
