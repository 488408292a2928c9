package model

import (
	"bytes"
	"encoding/gob"
	"io"
	"os"
	"path/filepath"

	"github.com/YuminosukeSato/newsclf/pkg/errors"
)

// SaveModel はモデルをgob形式でファイルに保存する
//
// 同じディレクトリに一時ファイルを書き出してからリネームするため、
// 読み込み側が書きかけのファイルを観測することはない。
//
// 使用例:
//
//	clf := ensemble.NewRandomForestClassifier()
//	// ... モデルの学習 ...
//	err := model.SaveModel(clf, "artifacts/models/random_forest.gob")
func SaveModel(model interface{}, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", filename)
	}
	tmp, err := os.CreateTemp(filepath.Dir(filename), "."+filepath.Base(filename)+".*")
	if err != nil {
		return errors.Wrap(err, "failed to create file")
	}
	defer os.Remove(tmp.Name())

	if err := SaveModelToWriter(model, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close file")
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return errors.Wrapf(err, "failed to publish %s", filename)
	}
	return nil
}

// LoadModel はファイルからモデルを読み込む
//
// model には読み込み先のポインタ（インターフェースに包まれたポインタも可）を渡す。
//
//	clf := linear_model.NewLogisticRegression()
//	err := model.LoadModel(clf, "artifacts/models/logistic_regression.gob")
func LoadModel(model interface{}, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return errors.Wrap(err, "failed to open file")
	}
	defer file.Close()

	return LoadModelFromReader(model, file)
}

// SaveModelToWriter はモデルをio.Writerに保存する
func SaveModelToWriter(model interface{}, w io.Writer) error {
	encoder := gob.NewEncoder(w)
	if err := encoder.Encode(model); err != nil {
		return errors.Wrap(err, "failed to encode model")
	}
	return nil
}

// LoadModelFromReader はio.Readerからモデルを読み込む
func LoadModelFromReader(model interface{}, r io.Reader) error {
	decoder := gob.NewDecoder(r)
	if err := decoder.Decode(model); err != nil {
		return errors.Wrap(err, "failed to decode model")
	}
	return nil
}

// EncodeSnapshot はGobEncodeの実装用に、非公開フィールドを写した
// スナップショット構造体をバイト列にする
func EncodeSnapshot(snapshot interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := SaveModelToWriter(snapshot, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot はEncodeSnapshotの逆変換
func DecodeSnapshot(data []byte, snapshot interface{}) error {
	return LoadModelFromReader(snapshot, bytes.NewReader(data))
}
