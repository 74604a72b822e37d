package deposit

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cryptostake/platform/pkg/catalog"
	"github.com/cryptostake/platform/pkg/chain"
	"github.com/cryptostake/platform/pkg/domain"
	"github.com/cryptostake/platform/pkg/store"
)

// transferTopic is keccak256("Transfer(address,address,uint256)"), the
// standard ERC-20 event signature every ERC-20-compliant token emits.
var transferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// maxScanWindow bounds how many blocks a single scan pass covers.
const maxScanWindow = uint64(50_000)

// scanLookback is how far behind head a scan pass may start: a pass never
// begins earlier than head-scanLookback, however far behind the cursor is.
const scanLookback = uint64(10_000)

// Scanner polls each configured chain for ERC-20 Transfer logs landing on a
// platform deposit address and records them as Deposit rows.
//
// Native-asset deposit observation is not implemented: doing it correctly
// requires either full-block trace scanning or per-address balance
// polling, and the spec this pipeline follows draws the line at ERC-20
// tokens. TODO: add a native-transfer strategy before accepting native
// deposits in production.
type Scanner struct {
	store    *store.Client
	repo     *Repository
	chains   *catalog.Repository
	registry *chain.Registry
	logger   *log.Logger
}

// NewScanner constructs a Scanner.
func NewScanner(s *store.Client, repo *Repository, chains *catalog.Repository, registry *chain.Registry, logger *log.Logger) *Scanner {
	if logger == nil {
		logger = log.New(log.Writer(), "[Deposit] ", log.LstdFlags)
	}
	return &Scanner{store: s, repo: repo, chains: chains, registry: registry, logger: logger}
}

// ScanAll runs one pass over every active chain, logging and continuing
// past a single chain's failure so one flaky RPC endpoint doesn't stall
// deposit ingestion for the rest.
func (s *Scanner) ScanAll(ctx context.Context) {
	chains, err := s.chains.ActiveChains(ctx)
	if err != nil {
		s.logger.Printf("❌ scan all: list active chains: %v", err)
		return
	}
	for _, c := range chains {
		if err := s.ScanChain(ctx, c); err != nil {
			if chain.IsTransient(err) {
				s.logger.Printf("⚠️  scan %s: transient error, will retry next pass: %v", c.Slug, err)
			} else {
				s.logger.Printf("❌ scan %s: %v", c.Slug, err)
			}
		}
	}
}

// ScanChain scans one chain's configured ERC-20 assets for new Transfer
// logs landing on a platform deposit address, from the later of
// lastScannedBlock+1 and head-scanLookback up to its current head (capped
// to maxScanWindow), and
// persists any hits plus the new lastScannedBlock in a single transaction.
func (s *Scanner) ScanChain(ctx context.Context, c domain.Chain) error {
	client, ok := s.registry.BySlug(c.Slug)
	if !ok {
		return fmt.Errorf("deposit: scanner: no dialed client for chain %s", c.Slug)
	}

	assets, err := s.chains.ActiveAssetsOnChain(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("deposit: scanner: load assets: %w", err)
	}
	if len(assets) == 0 {
		return nil
	}

	addresses, err := s.repo.AddressesOnChain(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("deposit: scanner: load deposit addresses: %w", err)
	}
	if len(addresses) == 0 {
		return nil
	}
	byAddress := make(map[common.Address]domain.DepositAddress, len(addresses))
	for _, a := range addresses {
		byAddress[common.HexToAddress(a.Address)] = a
	}

	head, err := client.CurrentBlock(ctx)
	if err != nil {
		return err
	}
	last, err := s.repo.GetLastScannedBlock(ctx, c.Slug)
	if err != nil {
		return err
	}
	from := last + 1
	if last == 0 {
		from = 0
	}
	if head > scanLookback && from < head-scanLookback {
		from = head - scanLookback
	}
	to := head
	if to > from+maxScanWindow {
		to = from + maxScanWindow
	}
	if from > to {
		return nil
	}

	type hit struct {
		assetID uuid.UUID
		log     gethtypes.Log
	}
	var hits []hit
	for _, asset := range assets {
		if asset.ContractAddress == nil {
			continue
		}
		contract := common.HexToAddress(*asset.ContractAddress)
		logs, err := client.Logs(ctx, contract, [][]common.Hash{{transferTopic}}, from, to)
		if err != nil {
			return err
		}
		for _, lg := range logs {
			if len(lg.Topics) != 3 {
				continue
			}
			to := common.HexToAddress(lg.Topics[2].Hex())
			if _, ours := byAddress[to]; !ours {
				continue
			}
			hits = append(hits, hit{assetID: asset.ID, log: lg})
		}
	}

	return s.store.RunInTransaction(ctx, func(ctx context.Context) error {
		for _, h := range hits {
			toAddr := common.HexToAddress(h.log.Topics[2].Hex())
			depositAddr := byAddress[toAddr]
			fromAddr := common.HexToAddress(h.log.Topics[1].Hex())
			asset := assetByID(assets, h.assetID)

			amount := decodeTransferAmount(h.log.Data, asset.Decimals)
			logIndex := int(h.log.Index)

			d := domain.Deposit{
				UserID:           depositAddr.UserID,
				AssetID:          h.assetID,
				ChainID:          c.ID,
				DepositAddressID: depositAddr.ID,
				TxHash:           strings.ToLower(h.log.TxHash.Hex()),
				LogIndex:         &logIndex,
				FromAddress:      strings.ToLower(fromAddr.Hex()),
				Amount:           amount,
			}
			if _, err := s.repo.InsertObserved(ctx, d); err != nil && err != store.ErrConflict {
				return fmt.Errorf("deposit: scanner: insert observed: %w", err)
			}
		}
		if err := s.repo.SetLastScannedBlock(ctx, c.Slug, to); err != nil {
			return err
		}
		if len(hits) > 0 {
			s.logger.Printf("🔄 chain=%s scanned [%d,%d] found=%d deposits", c.Slug, from, to, len(hits))
		}
		return nil
	})
}

func assetByID(assets []domain.Asset, id uuid.UUID) domain.Asset {
	for _, a := range assets {
		if a.ID == id {
			return a
		}
	}
	return domain.Asset{}
}

// decodeTransferAmount converts a raw 32-byte ERC-20 Transfer value into a
// human-scale decimal using the asset's configured decimals.
func decodeTransferAmount(data []byte, decimals int) decimal.Decimal {
	raw := new(big.Int).SetBytes(data)
	return decimal.NewFromBigInt(raw, 0).Shift(int32(-decimals))
}
