package store

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestBigIntScan(t *testing.T) {
	huge, _ := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)

	tests := []struct {
		name    string
		src     interface{}
		want    string
		wantErr bool
	}{
		{name: "nil", src: nil, want: "0"},
		{name: "int64", src: int64(42), want: "42"},
		{name: "float64", src: float64(6), want: "6"},
		{name: "bytes", src: []byte("1500000000000000000"), want: "1500000000000000000"},
		{name: "uint256 max", src: huge.String(), want: huge.String()},
		{name: "numeric with scale", src: "6.0", want: "6"},
		{name: "garbage", src: "abc", wantErr: true},
		{name: "unsupported type", src: true, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var b BigInt
			err := b.Scan(tc.src)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, b.String())
		})
	}
}

func TestBigIntValue(t *testing.T) {
	v, err := BigInt{}.Value()
	require.NoError(t, err)
	require.Equal(t, "0", v)

	v, err = NewBigInt(big.NewInt(7)).Value()
	require.NoError(t, err)
	require.Equal(t, "7", v)
}

func TestBigIntArithmetic(t *testing.T) {
	a := NewBigInt(big.NewInt(10))
	b := NewBigInt(big.NewInt(4))

	require.Equal(t, "14", a.Add(b).String())
	require.Equal(t, "6", a.Sub(b).String())
	require.Equal(t, 1, a.Cmp(b))
	require.Equal(t, 0, BigInt{}.Sign())
	require.Equal(t, "10", a.String(), "operands are not mutated")

	src := big.NewInt(3)
	c := NewBigInt(src)
	src.SetInt64(99)
	require.Equal(t, "3", c.String())
	require.Equal(t, "0", NewBigInt(nil).String())
}

func TestBigIntJSON(t *testing.T) {
	out, err := json.Marshal(struct {
		Amount BigInt `json:"amount"`
	}{Amount: NewBigInt(big.NewInt(1000))})
	require.NoError(t, err)
	require.JSONEq(t, `{"amount":"1000"}`, string(out))

	var in struct {
		A BigInt `json:"a"`
		B BigInt `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"12","b":34}`), &in))
	require.Equal(t, "12", in.A.String())
	require.Equal(t, "34", in.B.String())

	_, err = BigIntFromString("1e3")
	require.Error(t, err)
}

func TestContributionID(t *testing.T) {
	addr := common.HexToAddress("0xb90acf57c3bfe8e0e8215defc282b5f48b3edc74")
	require.Equal(t, "0xB90AcF57C3BFE8e0E8215defc282B5F48b3edC741700000000", ContributionID(addr, 1700000000))
}

func TestTableNames(t *testing.T) {
	require.Equal(t, "campaigns", Campaign{}.TableName())
	require.Equal(t, "contributors", Contributor{}.TableName())
	require.Equal(t, "contributions", Contribution{}.TableName())
	require.Equal(t, "pledges", Pledge{}.TableName())
	require.Equal(t, "refunds", Refund{}.TableName())
	require.Equal(t, "withdrawals", Withdrawal{}.TableName())
	require.Equal(t, "events", Event{}.TableName())
	require.Equal(t, "indexer_meta", IndexerMeta{}.TableName())
	require.Equal(t, "contribution_logs", ContributionLog{}.TableName())
	require.Len(t, AllModels(), 10)
}

func TestCampaignActive(t *testing.T) {
	c := Campaign{Deadline: 100}
	require.True(t, c.Active(99))
	require.False(t, c.Active(100))
	require.False(t, c.Active(101))
}
