package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bigkaa/provenance/internal/config"
	"github.com/bigkaa/provenance/internal/domain/model"
	"github.com/bigkaa/provenance/internal/geo"
	"github.com/bigkaa/provenance/internal/service"
)

// cliSession — идентификатор сессии команды anchor в журнале и спуле.
const cliSession = "cli"

// errDeclined — пользователь не подтвердил шаг.
var errDeclined = errors.New("отменено пользователем")

type anchorOptions struct {
	lat, lon       float64
	hasFix         bool
	noLocation     bool
	account        string
	passphraseFile string
	yes            bool
}

func anchorCmd() *cobra.Command {
	var opts anchorOptions

	cmd := &cobra.Command{
		Use:   "anchor FILE",
		Short: "Хэшировать, закрепить в IPFS и записать файл в реестр",
		Long: `Выполняет конвейер для одного файла в процессе: хэш и геолокация,
закрепление, отправка транзакции. Каждый шаг требует подтверждения,
если не указан --yes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.hasFix = cmd.Flags().Changed("lat")
			if opts.hasFix {
				if err := (model.Location{Latitude: opts.lat, Longitude: opts.lon}).Validate(); err != nil {
					return err
				}
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runAnchor(cmd.Context(), cfg, args[0], opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().Float64Var(&opts.lat, "lat", 0, "широта устройства")
	cmd.Flags().Float64Var(&opts.lon, "lon", 0, "долгота устройства")
	cmd.Flags().BoolVar(&opts.noLocation, "no-location", false, "записать без координат")
	cmd.Flags().StringVar(&opts.account, "account", "", "аккаунт keystore (по умолчанию PV_WALLET_ADDRESS)")
	cmd.Flags().StringVar(&opts.passphraseFile, "passphrase-file", "", "файл с паролем keystore")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "подтверждать шаги автоматически")
	cmd.MarkFlagsRequiredTogether("lat", "lon")
	cmd.MarkFlagsMutuallyExclusive("lat", "no-location")
	cmd.MarkFlagsMutuallyExclusive("lon", "no-location")
	return cmd
}

func runAnchor(ctx context.Context, cfg *config.Config, path string, opts anchorOptions, in io.Reader, out io.Writer) error {
	logger := config.SetupLogger(cfg)
	p := &prompter{in: bufio.NewReader(in), out: out, yes: opts.yes}

	c, err := buildCore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	sess := service.NewSession(cliSession, c.keystore, c.deps)
	defer sess.Close("команда завершена")

	passphrase, err := readPassphrase(opts.passphraseFile, p)
	if err != nil {
		return err
	}
	snap, err := sess.ConnectWallet(ctx, opts.account, passphrase)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Кошелёк: %s\n", snap.Wallet.Address)

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	_, err = sess.Pipeline.SelectFile(filepath.Base(path), f)
	f.Close()
	if err != nil {
		return err
	}

	if err := p.step("Вычислить хэш и зафиксировать время и координаты?"); err != nil {
		return err
	}
	if err := hashWithDecision(ctx, sess.Pipeline, anchorLocator(c.geo, opts), opts.noLocation, p); err != nil {
		return err
	}
	rec := sess.Pipeline.Snapshot().Record
	fmt.Fprintf(out, "SHA-256: %s\n", rec.FileHash)

	if err := p.step(fmt.Sprintf("Закрепить файл в %s?", c.uploader.Backend())); err != nil {
		return err
	}
	snap, err = sess.Pipeline.Upload(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "CID: %s\n", snap.Record.IPFSCID)

	if err := p.step("Подписать и отправить транзакцию в реестр?"); err != nil {
		return err
	}
	snap, err = sess.Pipeline.Submit(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, renderReceipt(*snap.Record, c.uploader.Backend()))
	return nil
}

// anchorLocator выбирает источник координат по флагам.
func anchorLocator(source geo.Source, opts anchorOptions) geo.Locator {
	switch {
	case opts.noLocation:
		return geo.Denied
	case opts.hasFix:
		return geo.Fixed(model.Location{Latitude: opts.lat, Longitude: opts.lon})
	default:
		return source.Locator(nil, false)
	}
}

// hashWithDecision хэширует файл; если геолокация недоступна, спрашивает,
// продолжать ли без неё. --no-location уже является согласием.
func hashWithDecision(ctx context.Context, pl *service.Pipeline, loc geo.Locator, noLocation bool, p *prompter) error {
	snap, err := pl.Hash(ctx, loc)
	if err == nil {
		return nil
	}
	if !snap.AwaitingLocationDecision {
		return err
	}

	if !noLocation {
		fmt.Fprintf(p.out, "Геолокация недоступна: %v\n", err)
		ok, perr := p.confirm("Продолжить без координат?")
		if perr != nil {
			return perr
		}
		if !ok {
			_, _ = pl.AbortLocation()
			return errDeclined
		}
	}
	_, err = pl.ProceedWithoutLocation()
	return err
}

// readPassphrase читает пароль из файла или первой строки ввода.
func readPassphrase(path string, p *prompter) (string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}
	fmt.Fprint(p.out, "Пароль keystore: ")
	line, err := p.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// prompter запрашивает подтверждение шагов.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
	yes bool
}

// confirm задаёт вопрос да/нет. С --yes ответ всегда «да».
func (p *prompter) confirm(question string) (bool, error) {
	if p.yes {
		fmt.Fprintf(p.out, "%s да\n", question)
		return true, nil
	}
	fmt.Fprintf(p.out, "%s [y/N] ", question)
	line, err := p.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", "д", "да":
		return true, nil
	default:
		return false, nil
	}
}

// step требует подтверждения шага; отказ прерывает команду.
func (p *prompter) step(question string) error {
	ok, err := p.confirm(question)
	if err != nil {
		return err
	}
	if !ok {
		return errDeclined
	}
	return nil
}
