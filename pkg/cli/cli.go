package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zurustar/ootw/pkg/logger"
)

// Config はコマンドライン引数から解析された設定を保持する
type Config struct {
	DataDir       string        // ゲームデータのディレクトリ（memlist.binのある場所）
	ConfigPath    string        // 設定ファイル（ootw.toml）のパス
	Scene         int           // 開始シーン
	Frames        int           // ヘッドレス実行のフレーム数（0は無制限）
	Timeout       time.Duration // タイムアウト時間（0は無制限）
	LogLevel      string        // ログレベル（debug, info, warn, error）
	Headless      bool          // ヘッドレスモード
	Realtime      bool          // ヘッドレスでも実時間でフレームを進める
	FaultPolicy   string        // フォールト時の動作（abort, isolate）
	Budget        int           // 1スライスあたりの命令数上限（0は無制限）
	Seed          int           // 乱数シード
	ListResources bool          // リソース一覧を表示して終了
	DumpDir       string        // リソースを書き出すディレクトリ
	SnapshotPath  string        // 終了時にスナップショットを書き出すファイル
	RestorePath   string        // 開始時に読み込むスナップショット
	ShowHelp      bool          // ヘルプ表示フラグ

	// Set はコマンドラインで明示的に指定されたフラグ名の集合（設定ファイルより優先する）
	Set map[string]bool
}

// IsSet フラグが明示的に指定されたかどうか
func (c *Config) IsSet(name string) bool {
	return c.Set[name]
}

// ParseArgs コマンドライン引数を解析してConfigを返す
func ParseArgs(args []string) (*Config, error) {
	fs := flag.NewFlagSet("ootw", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	config := &Config{Set: map[string]bool{}}

	var timeoutSec int
	fs.StringVar(&config.DataDir, "data", "", "ゲームデータのディレクトリ")
	fs.StringVar(&config.DataDir, "d", "", "ゲームデータのディレクトリ（短縮形）")
	fs.StringVar(&config.ConfigPath, "config", "", "設定ファイルのパス")
	fs.IntVar(&config.Scene, "scene", 0, "開始シーン（0-8）")
	fs.IntVar(&config.Frames, "frames", 0, "ヘッドレス実行のフレーム数")
	fs.IntVar(&timeoutSec, "timeout", 0, "タイムアウト時間（秒）")
	fs.IntVar(&timeoutSec, "t", 0, "タイムアウト時間（秒）（短縮形）")
	fs.StringVar(&config.LogLevel, "log-level", "info", "ログレベル（debug, info, warn, error）")
	fs.StringVar(&config.LogLevel, "l", "info", "ログレベル（短縮形）")
	fs.BoolVar(&config.Headless, "headless", false, "ヘッドレスモード")
	fs.BoolVar(&config.Realtime, "realtime", false, "ヘッドレスでも実時間で実行")
	fs.StringVar(&config.FaultPolicy, "fault-policy", "abort", "フォールト時の動作（abort, isolate）")
	fs.IntVar(&config.Budget, "budget", 0, "1スライスあたりの命令数上限")
	fs.IntVar(&config.Seed, "seed", 0, "乱数シード（0-65535）")
	fs.BoolVar(&config.ListResources, "list-resources", false, "リソース一覧を表示")
	fs.StringVar(&config.DumpDir, "dump-resources", "", "リソースを書き出すディレクトリ")
	fs.StringVar(&config.SnapshotPath, "snapshot", "", "終了時のスナップショット出力先")
	fs.StringVar(&config.RestorePath, "restore", "", "開始時に読み込むスナップショット")
	fs.BoolVar(&config.ShowHelp, "help", false, "ヘルプを表示")
	fs.BoolVar(&config.ShowHelp, "h", false, "ヘルプを表示（短縮形）")

	if err := fs.Parse(reorderArgs(fs, args)); err != nil {
		return nil, err
	}

	// 短縮形は正式名として記録する
	aliases := map[string]string{"d": "data", "t": "timeout", "l": "log-level", "h": "help"}
	fs.Visit(func(f *flag.Flag) {
		name := f.Name
		if long, ok := aliases[name]; ok {
			name = long
		}
		config.Set[name] = true
	})

	// 環境変数からの設定（コマンドラインフラグが優先）
	if !config.Headless {
		if headlessEnv := os.Getenv("HEADLESS"); headlessEnv != "" {
			config.Headless = headlessEnv == "1" || strings.ToLower(headlessEnv) == "true"
		}
	}

	// 環境変数からタイムアウトを取得（コマンドラインフラグが優先）
	if timeoutSec == 0 {
		if timeoutEnv := os.Getenv("TIMEOUT"); timeoutEnv != "" {
			if t, err := strconv.Atoi(timeoutEnv); err == nil && t > 0 {
				timeoutSec = t
			}
		}
	}

	// 環境変数からログレベルを取得（コマンドラインフラグが優先）
	if !config.IsSet("log-level") {
		if logLevelEnv := os.Getenv("LOG_LEVEL"); logLevelEnv != "" {
			config.LogLevel = strings.ToLower(logLevelEnv)
		}
	}

	// タイムアウトの検証
	if timeoutSec < 0 {
		return nil, fmt.Errorf("timeout must be non-negative, got %d", timeoutSec)
	}
	config.Timeout = time.Duration(timeoutSec) * time.Second

	// ログレベルの検証
	if _, err := logger.ParseLevel(config.LogLevel); err != nil {
		return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.LogLevel)
	}

	config.FaultPolicy = strings.ToLower(config.FaultPolicy)
	if config.FaultPolicy != "abort" && config.FaultPolicy != "isolate" {
		return nil, fmt.Errorf("invalid fault policy: %s (must be abort or isolate)", config.FaultPolicy)
	}
	if config.Frames < 0 {
		return nil, fmt.Errorf("frames must be non-negative, got %d", config.Frames)
	}
	if config.Budget < 0 {
		return nil, fmt.Errorf("budget must be non-negative, got %d", config.Budget)
	}
	if config.Seed < 0 || config.Seed > 0xffff {
		return nil, fmt.Errorf("seed must be between 0 and 65535, got %d", config.Seed)
	}

	// 位置引数（データディレクトリ）
	if fs.NArg() > 0 {
		if config.DataDir != "" {
			return nil, fmt.Errorf("data directory given twice: %s and %s", config.DataDir, fs.Arg(0))
		}
		config.DataDir = fs.Arg(0)
		config.Set["data"] = true
	}
	if fs.NArg() > 1 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args()[1:])
	}

	// 環境変数からデータディレクトリを取得（引数が優先）
	if config.DataDir == "" {
		if dataEnv := os.Getenv("OOTW_DATA"); dataEnv != "" {
			config.DataDir = dataEnv
			config.Set["data"] = true
		}
	}

	return config, nil
}

// reorderArgs 引数を並べ替えて、フラグを前に、位置引数を後ろに配置する
func reorderArgs(fs *flag.FlagSet, args []string) []string {
	var flags []string
	var positional []string

	for i := 0; i < len(args); i++ {
		arg := args[i]

		// フラグかどうかを判定（-または--で始まる）
		if len(arg) > 1 && arg[0] == '-' {
			flags = append(flags, arg)

			// -name=value の形式、またはブール型フラグは値を取らない
			name := strings.TrimLeft(arg, "-")
			if strings.Contains(name, "=") || isBoolFlag(fs, name) {
				continue
			}
			// 次の引数が値（-10 のような負数も値として扱う）
			if i+1 < len(args) {
				i++
				flags = append(flags, args[i])
			}
		} else {
			// 位置引数
			positional = append(positional, arg)
		}
	}

	// フラグを前に、位置引数を後ろに配置
	return append(flags, positional...)
}

func isBoolFlag(fs *flag.FlagSet, name string) bool {
	f := fs.Lookup(name)
	if f == nil {
		return false
	}
	b, ok := f.Value.(interface{ IsBoolFlag() bool })
	return ok && b.IsBoolFlag()
}

// PrintHelp ヘルプメッセージを表示
func PrintHelp(w io.Writer) {
	fmt.Fprintf(w, `ootw - Another World bytecode engine

Usage:
  ootw [options] [data-dir]

Arguments:
  data-dir      memlist.bin と bankNN のあるディレクトリ（省略時はカレントディレクトリ）

Options:
  -d, --data <dir>            データディレクトリ
  --config <file>             設定ファイル（省略時は data-dir/ootw.toml を探す）
  --scene <n>                 開始シーン（0-8、デフォルト: 0）
  --frames <n>                ヘッドレス実行のフレーム数（デフォルト: 無制限）
  -t, --timeout <seconds>     指定秒数後にプログラムを終了（デフォルト: 無制限）
  -l, --log-level <level>     ログレベル: debug, info, warn, error（デフォルト: info）
  --headless                  ヘッドレスモード（GUIなし）
  --realtime                  ヘッドレスでも実時間で実行
  --fault-policy <policy>     abort または isolate（デフォルト: abort）
  --budget <n>                1スライスあたりの命令数上限（デフォルト: 無制限）
  --seed <n>                  乱数シード
  --list-resources            リソース一覧を表示して終了
  --dump-resources <dir>      全リソースを展開して書き出し、終了
  --snapshot <file>           終了時にVMの状態を書き出す
  --restore <file>            スナップショットから再開
  -h, --help                  このヘルプを表示

Environment Variables:
  OOTW_DATA=<dir>             データディレクトリ
  HEADLESS=1                  ヘッドレスモードを有効化
  TIMEOUT=<seconds>           タイムアウト時間（秒）
  LOG_LEVEL=<level>           ログレベル

Examples:
  ootw /path/to/ootw                        ウィンドウで実行
  ootw --scene 1 /path/to/ootw              シーン1から開始
  ootw --headless --frames 600 --snapshot run.cbor /path/to/ootw
  ootw --list-resources /path/to/ootw       リソース一覧
  ootw --dump-resources out /path/to/ootw   リソースを書き出し
`)
}
