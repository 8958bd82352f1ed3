package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"

	"walletcore/internal/model"
	"walletcore/internal/repository"
	"walletcore/pkg/money"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// ExportService 账户快照导出
// 给运营对账用：逐账户先补一次重放再出快照，金额换算成元
type ExportService struct {
	eventRepo *repository.EventRepository
	replay    *ReplayService
}

func NewExportService(db *gorm.DB, rdb *redis.Client, replay *ReplayService) *ExportService {
	return &ExportService{
		eventRepo: repository.NewEventRepository(db),
		replay:    replay,
	}
}

var exportHeader = []string{
	"aid", "uid", "vid", "license",
	"balance0", "balance1", "frozen_balance0", "frozen_balance1",
	"cashable_balance", "bonus", "paid", "total",
}

// ExportAccounts 全量账户导出为 CSV，返回导出行数
func (s *ExportService) ExportAccounts(ctx context.Context, path string) (int, error) {
	aids, err := s.eventRepo.DistinctAccountIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("查账户列表失败: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("创建导出文件失败: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(exportHeader); err != nil {
		return 0, err
	}

	count := 0
	for _, aid := range aids {
		acct, err := s.replay.Replay(ctx, aid)
		if err != nil && !errors.Is(err, ErrNothingToReplay) {
			return count, fmt.Errorf("重放账户 %d 失败: %w", aid, err)
		}
		if err := w.Write(exportRow(acct)); err != nil {
			return count, err
		}
		count++
	}

	w.Flush()
	return count, w.Error()
}

func exportRow(a *model.Account) []string {
	return []string{
		strconv.FormatInt(a.ID, 10),
		strconv.FormatInt(a.UID, 10),
		strconv.FormatInt(a.VID, 10),
		vehicleLicense(a),
		money.ToDisplay(a.Balance0),
		money.ToDisplay(a.Balance1),
		money.ToDisplay(a.FrozenBalance0),
		money.ToDisplay(a.FrozenBalance1),
		money.ToDisplay(a.CashableBalance),
		money.ToDisplay(a.Bonus),
		money.ToDisplay(a.Paid),
		money.ToDisplay(a.Total()),
	}
}
